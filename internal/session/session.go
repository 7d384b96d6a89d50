// Package session defines the account-session capability the campaign engine
// consumes: open a (possibly proxied) automation context, authenticate, and
// deliver messages one at a time. The concrete driver lives in
// internal/browser; the engine only sees these interfaces.
package session

import (
	"context"
	"fmt"
)

// Credentials identify one messaging account.
type Credentials struct {
	Login    string
	Password string
}

// Proxy describes an optional upstream proxy for a session.
type Proxy struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
}

// URL renders the proxy as type://[user:pass@]host:port.
func (p Proxy) URL() string {
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Type, p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Type, p.Host, p.Port)
}

// Session is one authenticated automation context. Login and Send fail closed:
// any inability to verify success reports false rather than an error.
type Session interface {
	// Login authenticates the session. False on any failure to verify.
	Login(ctx context.Context, login, password string) bool
	// Send navigates to the target profile and delivers one message.
	Send(ctx context.Context, target, text string) bool
	// Close tears the session down. Idempotent, safe after failures.
	Close()
}

// Dialer opens sessions. Open failures (browser startup, proxy dial) are
// errors; authentication failures are not, they surface via Login.
type Dialer interface {
	Open(ctx context.Context, creds Credentials, proxy *Proxy) (Session, error)
}
