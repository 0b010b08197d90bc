// Package probe provides the health probers used by readiness gates.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"apphost/internal/readiness"
)

// HTTPProber issues a GET and accepts any 2xx response.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober that accepts self-signed development
// certificates.
func NewHTTPProber() *HTTPProber {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local dev certificates
	transport.DisableKeepAlives = true
	return &HTTPProber{Client: &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("invalid probe url: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// TCPProber succeeds when a TCP connection can be opened.
type TCPProber struct {
	Dialer net.Dialer
}

func (p *TCPProber) Probe(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid probe url: %w", err)
	}
	conn, err := p.Dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Defaults returns the probers for every supported endpoint scheme.
func Defaults() readiness.Probers {
	h := NewHTTPProber()
	return readiness.Probers{
		"http":  h,
		"https": h,
		"tcp":   &TCPProber{},
	}
}
