package middleware

import (
	"context"
	"io"
	"net/http"
)

type downstreamContextKey struct{}

// Downstream is an HTTP client for calls a handler makes on behalf of the
// caller. It forwards the caller's bearer credential, if any.
type Downstream struct {
	client *http.Client
	token  string
}

func newDownstream(c *http.Client, token string) *Downstream {
	if c == nil {
		c = http.DefaultClient
	}
	return &Downstream{client: c, token: token}
}

func withDownstream(ctx context.Context, d *Downstream) context.Context {
	return context.WithValue(ctx, downstreamContextKey{}, d)
}

// DownstreamFromContext returns the client attached by the gate. Outside a gated
// request it returns an anonymous client and false.
func DownstreamFromContext(ctx context.Context) (*Downstream, bool) {
	d, ok := ctx.Value(downstreamContextKey{}).(*Downstream)
	if !ok || d == nil {
		return newDownstream(nil, ""), false
	}
	return d, true
}

// Authenticated reports whether requests carry a credential.
func (d *Downstream) Authenticated() bool { return d.token != "" }

// Do sends req with the caller's credential. req is not modified.
func (d *Downstream) Do(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if d.token != "" {
		out.Header.Set("Authorization", "Bearer "+d.token)
	}
	return d.client.Do(out)
}

func (d *Downstream) Get(ctx context.Context, url string) (*http.Response, error) {
	return d.send(ctx, http.MethodGet, url, nil)
}

func (d *Downstream) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return d.Do(req)
}

func (d *Downstream) send(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return d.Do(req)
}
