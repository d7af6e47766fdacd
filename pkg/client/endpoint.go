package client

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// EndpointPolicy restricts which ask endpoints the client talks to.
type EndpointPolicy struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool `yaml:"allow-http" mapstructure:"allow-http"`
	// AllowLocalNetworks permits loopback, private and link-local targets as
	// well as localhost host names.
	AllowLocalNetworks bool `yaml:"allow-local-networks" mapstructure:"allow-local-networks"`
}

// DefaultEndpointPolicy allows the local development server.
var DefaultEndpointPolicy = EndpointPolicy{
	AllowHTTP:          true,
	AllowLocalNetworks: true,
}

// ValidateEndpoint checks rawURL against the policy without any DNS lookup.
func ValidateEndpoint(rawURL string, policy EndpointPolicy) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !policy.AllowHTTP {
			return errors.New("http scheme is not allowed")
		}
	default:
		return errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("URL host is required")
	}

	if !policy.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Errorf("local hostname %q is not allowed", host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !policy.AllowLocalNetworks {
			return errors.Errorf("zoned IP address %q is not allowed", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Errorf("disallowed IP address %q", host)
		}

		if !policy.AllowLocalNetworks {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
				return errors.Errorf("local network IP %q is not allowed", host)
			}
		}
	}

	return nil
}
