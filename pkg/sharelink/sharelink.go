// Package sharelink handles the access-code ("pwd") query parameter that the
// remote service embeds in share links.
package sharelink

import (
	"math/rand"
	"strings"
)

// SplitAccessCode extracts the pwd parameter from a share link and returns
// the link without it plus the code. Other query parameters keep their order.
// Links without a pwd parameter come back unchanged with an empty code.
func SplitAccessCode(link string) (string, string) {
	if !strings.Contains(link, "?pwd=") && !strings.Contains(link, "&pwd=") {
		return link, ""
	}

	base, query, found := strings.Cut(link, "?")
	if !found {
		return link, ""
	}

	var code string
	var kept []string
	for _, p := range strings.Split(query, "&") {
		if strings.HasPrefix(p, "pwd=") {
			code = strings.TrimPrefix(p, "pwd=")
		} else if p != "" {
			kept = append(kept, p)
		}
	}

	if len(kept) > 0 {
		return base + "?" + strings.Join(kept, "&"), code
	}
	return base, code
}

// BuildWithAccessCode recombines a link with its access code so the result is
// retrievable in one click. Links that already carry a pwd parameter and
// empty codes pass through untouched.
func BuildWithAccessCode(baseURL, code string) string {
	if code == "" {
		return baseURL
	}
	if strings.Contains(baseURL, "?pwd=") || strings.Contains(baseURL, "&pwd=") {
		return baseURL
	}

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "pwd=" + code
}

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// GenerateRandomPassword returns a 4-character access code in the alphabet
// the remote service accepts (no easily confused characters).
func GenerateRandomPassword() string {
	b := make([]byte, 4)
	for i := range b {
		b[i] = passwordAlphabet[rand.Intn(len(passwordAlphabet))]
	}
	return string(b)
}
