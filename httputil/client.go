package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/xeptore/tunedl/config"
)

// NewClient returns a client with the given timeout that dials through the
// configured SOCKS5 proxy, if any.
func NewClient(conf config.Proxy, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert

	if conf.Enabled() {
		dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)), nil, proxy.Direct)
		if nil != err {
			return nil, fmt.Errorf("failed to create socks5 dialer: %v", err)
		}

		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support dialing with context")
		}

		transport.Proxy = nil
		transport.DialContext = ctxDialer.DialContext
	}

	return &http.Client{ //nolint:exhaustruct
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
