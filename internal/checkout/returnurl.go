package checkout

import (
	"net"
	"net/url"
	"strings"
)

// orderIDPlaceholder is substituted by the gateway with the order reference.
const orderIDPlaceholder = "{order_id}"

// ReturnURLPolicy decides where the gateway sends the customer back to.
// Outside sandbox mode it never emits plain http or a loopback host.
type ReturnURLPolicy struct {
	FrontendURL string
	Placeholder string
	Sandbox     bool
}

// Build returns <origin>/checkout?order_id={order_id} for the request origin,
// falling back to the configured frontend url.
func (p ReturnURLPolicy) Build(origin string) (string, error) {
	if origin == "" || origin == "null" {
		origin = p.FrontendURL
	}
	if origin == "" {
		origin = p.Placeholder
	}

	u, err := parseOrigin(origin)
	if err != nil {
		return "", err
	}

	if !p.Sandbox {
		if isLoopback(u.Hostname()) {
			if u, err = parseOrigin(p.Placeholder); err != nil {
				return "", err
			}
		}
		if u.Scheme == "http" {
			u.Scheme = "https"
		}
	}

	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/") + "/checkout?order_id=" + orderIDPlaceholder, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, validationf("invalid return origin %q", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}, nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
