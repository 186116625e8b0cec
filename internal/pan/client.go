// Package pan talks to the remote file-storage service's web API. Every
// method returns *domain.RemoteError when the service answers with a
// non-zero errno, so callers can classify failures by code.
package pan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
)

var (
	shareIDRe  = regexp.MustCompile(`"shareid":(\d+)`)
	shareUkRe  = regexp.MustCompile(`"share_uk":"?(\d+)"?`)
	fsIDRe     = regexp.MustCompile(`"fs_id":(\d+)`)
	filenameRe = regexp.MustCompile(`"server_filename":"((?:[^"\\]|\\.)*)"`)
)

type Client struct {
	http   *resty.Client
	cookie string
	randsk string
}

func NewClient(cfg configs.PanConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Referer", cfg.BaseURL)

	return &Client{http: httpClient}
}

type errnoResponse struct {
	Errno int `json:"errno"`
}

func remoteErr(errno int) error {
	if errno == 0 {
		return nil
	}
	return &domain.RemoteError{Code: errno}
}

// Authenticate stores the login cookie and calls the quota endpoint to
// confirm the session is usable.
func (c *Client) Authenticate(ctx context.Context, cookie string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", cookie).
		Get("/api/quota")
	if err != nil {
		return err
	}

	var body errnoResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("unexpected quota response: %w", err)
	}
	if body.Errno != 0 {
		return &domain.RemoteError{Code: domain.CodeNotLoggedIn}
	}

	c.cookie = cookie
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx).SetHeader("Cookie", c.cookieHeader())
	return req
}

func (c *Client) cookieHeader() string {
	if c.randsk == "" {
		return c.cookie
	}
	return c.cookie + "; BDCLND=" + c.randsk
}

// surl extracts the short share key from a link of the form
// https://host/s/1<key>. The service's verify endpoint wants the key without
// its leading "1".
func surl(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	key := parts[len(parts)-1]
	if key == "" {
		return "", fmt.Errorf("share link has no key: %s", baseURL)
	}
	return strings.TrimPrefix(key, "1"), nil
}

type verifyResponse struct {
	Errno  int    `json:"errno"`
	Randsk string `json:"randsk"`
}

// VerifyAccessCode submits the access code for a share link and caches the
// clearance token the service hands back.
func (c *Client) VerifyAccessCode(ctx context.Context, baseURL, accessCode string) error {
	key, err := surl(baseURL)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"surl":    key,
			"t":       "0",
			"channel": "chunlei",
			"web":     "1",
		}).
		SetFormData(map[string]string{"pwd": accessCode}).
		Post("/share/verify")
	if err != nil {
		return err
	}

	var body verifyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("unexpected verify response: %w", err)
	}
	if body.Errno != 0 {
		return &domain.RemoteError{Code: body.Errno}
	}

	c.randsk = body.Randsk
	return nil
}

// sharePage fetches the share landing page, whose embedded JSON carries the
// share id, owner id and file ids the transfer endpoint needs.
func (c *Client) sharePage(ctx context.Context, baseURL string) (shareID, uk string, fsIDs []string, err error) {
	resp, err := c.request(ctx).Get(baseURL)
	if err != nil {
		return "", "", nil, err
	}
	html := resp.String()

	idMatch := shareIDRe.FindStringSubmatch(html)
	ukMatch := shareUkRe.FindStringSubmatch(html)
	if idMatch == nil || ukMatch == nil {
		return "", "", nil, &domain.RemoteError{Code: domain.CodeInvalidLink}
	}
	for _, m := range fsIDRe.FindAllStringSubmatch(html, -1) {
		fsIDs = append(fsIDs, m[1])
	}
	if len(fsIDs) == 0 {
		return "", "", nil, &domain.RemoteError{Code: domain.CodeInvalidLink}
	}

	return idMatch[1], ukMatch[1], fsIDs, nil
}

// Transfer saves the shared files into targetPath under the logged-in
// account.
func (c *Client) Transfer(ctx context.Context, baseURL, accessCode, targetPath string) error {
	if accessCode != "" && c.randsk == "" {
		if err := c.VerifyAccessCode(ctx, baseURL, accessCode); err != nil {
			return err
		}
	}

	shareID, uk, fsIDs, err := c.sharePage(ctx, baseURL)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"shareid": shareID,
			"from":    uk,
			"ondup":   "newcopy",
			"async":   "1",
			"channel": "chunlei",
			"web":     "1",
		}).
		SetFormData(map[string]string{
			"fsidlist": "[" + strings.Join(fsIDs, ",") + "]",
			"path":     targetPath,
		}).
		Post("/share/transfer")
	if err != nil {
		return err
	}

	var body errnoResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("unexpected transfer response: %w", err)
	}

	return remoteErr(body.Errno)
}

// ResolveShareFilename returns the first filename advertised on the share
// page. Used to find the saved entry in the target directory afterwards.
func (c *Client) ResolveShareFilename(ctx context.Context, baseURL, accessCode string) (string, error) {
	if accessCode != "" && c.randsk == "" {
		if err := c.VerifyAccessCode(ctx, baseURL, accessCode); err != nil {
			return "", err
		}
	}

	resp, err := c.request(ctx).Get(baseURL)
	if err != nil {
		return "", err
	}

	m := filenameRe.FindStringSubmatch(resp.String())
	if m == nil {
		return "", &domain.RemoteError{Code: domain.CodeInvalidLink}
	}

	var name string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &name); err != nil {
		return "", fmt.Errorf("undecodable filename in share page: %w", err)
	}
	return name, nil
}

type listResponse struct {
	Errno int `json:"errno"`
	List  []struct {
		FsID           int64  `json:"fs_id"`
		ServerFilename string `json:"server_filename"`
		Path           string `json:"path"`
	} `json:"list"`
}

func (c *Client) ListDir(ctx context.Context, path string) ([]domain.FileEntry, error) {
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"dir":   path,
			"order": "time",
			"desc":  "1",
			"web":   "1",
			"page":  "1",
			"num":   "1000",
		}).
		Get("/api/list")
	if err != nil {
		return nil, err
	}

	var body listResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("unexpected list response: %w", err)
	}
	if body.Errno != 0 {
		return nil, &domain.RemoteError{Code: body.Errno}
	}

	entries := make([]domain.FileEntry, 0, len(body.List))
	for _, item := range body.List {
		entries = append(entries, domain.FileEntry{
			FsID:           item.FsID,
			ServerFilename: item.ServerFilename,
			Path:           item.Path,
		})
	}
	return entries, nil
}

type shareSetResponse struct {
	Errno int    `json:"errno"`
	Link  string `json:"link"`
}

// CreateShare publishes a share for one file. expiryDays of zero means the
// link never expires; an empty password makes the share open.
func (c *Client) CreateShare(ctx context.Context, fsID int64, expiryDays int, password string) (string, error) {
	form := map[string]string{
		"fid_list":     fmt.Sprintf("[%d]", fsID),
		"period":       fmt.Sprintf("%d", expiryDays),
		"channel_list": "[]",
	}
	if password != "" {
		form["schannel"] = "4"
		form["pwd"] = password
	} else {
		form["schannel"] = "0"
	}

	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"channel": "chunlei",
			"web":     "1",
		}).
		SetFormData(form).
		Post("/share/set")
	if err != nil {
		return "", err
	}

	var body shareSetResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("unexpected share response: %w", err)
	}
	if body.Errno != 0 {
		return "", &domain.RemoteError{Code: body.Errno}
	}

	return body.Link, nil
}
