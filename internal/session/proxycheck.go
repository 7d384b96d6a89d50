package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// CheckProxy performs a bounded GET through the proxy to verify it is usable.
// TLS verification is skipped: the check answers "does this proxy route
// traffic", not "is the upstream certificate valid".
func CheckProxy(ctx context.Context, proxy Proxy, checkURL string, timeout time.Duration) error {
	proxyURL, err := url.Parse(proxy.URL())
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy check failed with status %d", resp.StatusCode)
	}
	return nil
}
