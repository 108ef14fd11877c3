// Package httpclient builds the outbound HTTP clients used to reach the chat
// platform and the payment provider.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultResolverTTL = 5 * time.Minute
)

var (
	// Global DNS resolver with caching
	globalResolver     *dnscache.Resolver
	globalResolverOnce sync.Once
)

// Resolver returns the process-wide caching resolver, starting its refresh
// loop on first use.
func Resolver() *dnscache.Resolver {
	globalResolverOnce.Do(func() {
		globalResolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(defaultResolverTTL)
			defer ticker.Stop()
			for range ticker.C {
				globalResolver.Refresh(true)
				log.Debug().Dur("ttl", defaultResolverTTL).Msg("DNS cache refreshed")
			}
		}()
	})
	return globalResolver
}

// DialContextWithCache dials address after resolving its host through the
// caching resolver, trying each returned address in turn.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := Resolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	dialer := &net.Dialer{
		Timeout:   defaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// New returns an HTTP client whose every request is bounded by timeout.
// A non-positive timeout falls back to five seconds.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = DialContextWithCache
	transport.MaxIdleConnsPerHost = 16
	transport.TLSHandshakeTimeout = timeout

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
