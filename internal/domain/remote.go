package domain

import (
	"context"
	"fmt"
)

// Result codes returned by the remote storage service.
const (
	CodeUnknownFailure     = -1
	CodeNotLoggedIn        = -4
	CodeDuplicateName      = -8
	CodeAccessCodeRejected = -9
	CodeCapacityExceeded   = -10
	CodeTooManyAccesses    = -62
	CodeBadParameter       = 2
	CodeInvalidLink        = 105
)

// ErrorCodes maps remote result codes to human readable descriptions.
var ErrorCodes = map[int]string{
	CodeUnknownFailure:     "unknown failure",
	CodeNotLoggedIn:        "not logged in or login expired",
	CodeDuplicateName:      "a file with the same name already exists at the target",
	CodeAccessCodeRejected: "access code verification failed",
	CodeCapacityExceeded:   "insufficient storage capacity",
	CodeTooManyAccesses:    "link accessed too many times",
	CodeBadParameter:       "bad request parameter",
	CodeInvalidLink:        "link is invalid, expired or missing its access code",
}

// skipOnCodes are permanent conditions: retrying cannot change the outcome,
// so tasks hitting them end skipped and bypass the rate limiter's backoff
// accounting. CodeUnknownFailure is deliberately absent; it may be a
// throttling symptom and must feed the failure streak.
var skipOnCodes = map[int]struct{}{
	CodeInvalidLink:        {},
	CodeAccessCodeRejected: {},
	CodeTooManyAccesses:    {},
	CodeNotLoggedIn:        {},
	CodeDuplicateName:      {},
	CodeCapacityExceeded:   {},
	CodeBadParameter:       {},
}

func SkipOnCode(code int) bool {
	_, ok := skipOnCodes[code]
	return ok
}

// RemoteError is a non-zero result code reported by the remote service, as
// opposed to a local transport or programming fault.
type RemoteError struct {
	Code int
}

func (e *RemoteError) Error() string {
	desc, ok := ErrorCodes[e.Code]
	if !ok {
		desc = "unrecognized result code"
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, desc)
}

// FileEntry is one row of a remote directory listing.
type FileEntry struct {
	FsID           int64  `json:"fs_id"`
	ServerFilename string `json:"server_filename"`
	Path           string `json:"path"`
}

// RemoteClient is the narrow contract over the remote storage service. All
// implementations must be safe for serialized use; callers hold the shared
// execution lock for the entire duration of any call sequence.
//
// Methods return a *RemoteError for service-reported result codes and plain
// errors for transport faults.
type RemoteClient interface {
	// Authenticate validates a session cookie and binds the client to it.
	Authenticate(ctx context.Context, cookie string) error
	// Transfer saves the resource behind baseURL (with access code) into
	// targetPath inside the authenticated account's storage.
	Transfer(ctx context.Context, baseURL, accessCode, targetPath string) error
	// CreateShare publishes fsID and returns the share link.
	CreateShare(ctx context.Context, fsID int64, expiryDays int, password string) (string, error)
	// ListDir lists a directory in the authenticated account's storage.
	ListDir(ctx context.Context, path string) ([]FileEntry, error)
	// ResolveShareFilename looks up the remote filename behind a share link
	// before transferring. Best-effort: failures never block a transfer.
	ResolveShareFilename(ctx context.Context, baseURL, accessCode string) (string, error)
	// VerifyAccessCode checks an access code against a share link.
	// Best-effort helper, same contract as ResolveShareFilename.
	VerifyAccessCode(ctx context.Context, baseURL, accessCode string) error
}
