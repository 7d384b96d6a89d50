// Package browser implements the account-session capability on go-rod. It is
// the only package that knows about page structure; the engine sees it purely
// through session.Dialer.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"social-outreach/internal/session"
)

// Config holds browser-level settings shared by all sessions.
type Config struct {
	Headless          bool
	NavigationTimeout time.Duration
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 OPR/123.0.0.0",
}

// Dialer opens rod-backed sessions, one browser process per session so each
// account gets its own proxy and fingerprint.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Dialer{cfg: cfg}
}

// Open launches a browser, optionally routed through the proxy, and returns an
// unauthenticated session.
func (d *Dialer) Open(ctx context.Context, creds session.Credentials, proxy *session.Proxy) (session.Session, error) {
	l := launcher.New().
		Headless(d.cfg.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("lang", "en-US").
		Set("user-agent", userAgents[rand.Intn(len(userAgents))])

	if proxy != nil {
		l = l.Set("proxy-server", fmt.Sprintf("%s://%s:%d", proxy.Type, proxy.Host, proxy.Port)).
			Set("ignore-certificate-errors")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	if proxy != nil && proxy.Username != "" {
		go func() {
			_ = b.HandleAuth(proxy.Username, proxy.Password)()
		}()
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &browserSession{
		id:       uuid.New().String(),
		launcher: l,
		browser:  b,
		page:     page,
		timeout:  d.cfg.NavigationTimeout,
	}, nil
}

type browserSession struct {
	id       string
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
	closeOne sync.Once
}

// Close tears down the browser process. Safe to call repeatedly.
func (s *browserSession) Close() {
	s.closeOne.Do(func() {
		_ = s.browser.Close()
		s.launcher.Kill()
	})
}
