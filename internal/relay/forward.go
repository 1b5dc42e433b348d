package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/numdata/printwire/internal/lpd"
)

// Forwarder delivers one complete payload to a destination URI.
type Forwarder interface {
	Forward(ctx context.Context, uri string, data []byte) error
}

// URIForwarder dispatches on the URI scheme: http/https POST the payload,
// tcp writes it raw to host:port, lpd submits it as a print job to
// lpd://host[:port]/queue.
type URIForwarder struct {
	httpClient  *http.Client
	dialTimeout time.Duration
	user        string
}

func NewURIForwarder(timeout time.Duration, user string) *URIForwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if user == "" {
		user = "relay"
	}
	return &URIForwarder{
		httpClient:  &http.Client{Timeout: timeout},
		dialTimeout: timeout,
		user:        user,
	}
}

func (f *URIForwarder) Forward(ctx context.Context, uri string, data []byte) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("parse destination %q: %w", uri, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.forwardHTTP(ctx, uri, data)
	case "tcp":
		return f.forwardTCP(ctx, u, data)
	case "lpd":
		return f.forwardLPD(ctx, u, data)
	default:
		return fmt.Errorf("unsupported destination scheme %q", u.Scheme)
	}
}

func (f *URIForwarder) forwardHTTP(ctx context.Context, uri string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request for %s: %w", uri, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post to %s: http error: %d", uri, resp.StatusCode)
	}
	return nil
}

func (f *URIForwarder) forwardTCP(ctx context.Context, u *url.URL, data []byte) error {
	d := net.Dialer{Timeout: f.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.Host, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(f.dialTimeout))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", u.Host, err)
	}
	return nil
}

func (f *URIForwarder) forwardLPD(ctx context.Context, u *url.URL, data []byte) error {
	queue := strings.TrimPrefix(u.Path, "/")
	if queue == "" {
		return fmt.Errorf("lpd destination %s names no queue", u)
	}

	port := 0
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			return fmt.Errorf("lpd destination %s: bad port: %w", u, err)
		}
	}

	docName := "relay-" + newID()
	client := lpd.NewClient(u.Hostname(), port, queue, f.user)
	if err := client.Print(ctx, docName, data, true); err != nil {
		return fmt.Errorf("print to %s: %w", u.Host, err)
	}
	return nil
}
