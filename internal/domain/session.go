package domain

import "context"

// SessionStore caches the authenticated session cookie per account so a
// restarted process can log back in without a fresh cookie from the operator.
type SessionStore interface {
	Ping(ctx context.Context) (err error)
	SaveSession(ctx context.Context, account, cookie string) error
	LoadSession(ctx context.Context, account string) (string, error)
	DeleteSession(ctx context.Context, account string) error
	Close() error
}
