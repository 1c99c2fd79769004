package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

// forwardedHeaders are copied from the client request to the upstream.
// Identity headers are added only when the proxy trusts its caller.
var forwardedHeaders = []string{"Content-Type", "Origin", "Accept"}

type ServiceProxy struct {
	baseURL       string
	client        *http.Client
	trustIdentity bool
}

type ProxyOption func(*ServiceProxy)

// TrustIdentityHeaders forwards the X-User-* headers set by an upstream auth
// layer. Without it they are dropped, so a client cannot claim an identity.
func TrustIdentityHeaders(trust bool) ProxyOption {
	return func(p *ServiceProxy) {
		p.trustIdentity = trust
	}
}

func NewServiceProxy(baseURL string, client *http.Client, opts ...ProxyOption) *ServiceProxy {
	p := &ServiceProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header, forwardedHeaders)
	if p.trustIdentity {
		copyHeaders(req.Header, r.Header, identity.Headers)
	}

	return p.client.Do(req)
}

func copyHeaders(dst, src http.Header, names []string) {
	for _, name := range names {
		if value := src.Get(name); value != "" {
			dst.Set(name, value)
		}
	}
}
