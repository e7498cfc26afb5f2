package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/network"
)

// HTTPClient is the default outbound client used for relay requests. No
// client-level timeout when RELAY_TIMEOUT is unset: streaming completions
// legitimately run for minutes, and per-call contexts bound everything else.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for metadata requests such
// as catalog listings and selector calls.
var ImpatientHTTPClient *http.Client

// Init builds the shared HTTP clients with proxy and timeout settings
// derived from configuration.
func Init() {
	// HTTP/2 disabled: several upstream gateways reset h2 streams mid-SSE.
	createTransport := func(proxyURL *url.URL, blockInternal bool) *http.Transport {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}

		if blockInternal {
			dialer.Control = func(networkName, address string, c syscall.RawConn) error {
				host, _, err := net.SplitHostPort(address)
				if err != nil {
					return errors.Wrapf(err, "failed to split host port: %s", address)
				}
				ip := net.ParseIP(host)
				if ip == nil {
					return errors.Errorf("failed to parse IP address: %s", host)
				}
				if network.IsForbiddenIP(ip) {
					return errors.Errorf("internal IP %s is blocked", ip)
				}
				return nil
			}
		}

		transport := &http.Transport{
			DialContext:  dialer.DialContext,
			TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		}
		if proxyURL != nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		return transport
	}

	var proxyURL *url.URL
	if config.RelayProxy != "" {
		logger.Logger.Info("using relay proxy", zap.String("proxy", config.RelayProxy))
		parsed, err := url.Parse(config.RelayProxy)
		if err != nil {
			logger.Logger.Fatal(fmt.Sprintf("RELAY_PROXY set but invalid: %s", config.RelayProxy))
		}
		proxyURL = parsed
	}
	transport := createTransport(proxyURL, config.BlockInternalRequests)

	HTTPClient = &http.Client{
		Timeout:   config.RelayTimeout,
		Transport: transport,
	}
	ImpatientHTTPClient = &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}
}
