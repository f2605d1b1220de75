package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// HookFunc is a function that can modify the request before it's sent
type HookFunc func(req *http.Request) error

// UserAgentHook sets the User-Agent header unless the request already carries one
func UserAgentHook(ua string) HookFunc {
	return func(req *http.Request) error {
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", ua)
		}
		return nil
	}
}

// HeaderHook sets fixed headers on every request, overriding earlier values
func HeaderHook(headers map[string]string) HookFunc {
	return func(req *http.Request) error {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return nil
	}
}

// requestModifier wraps an http.RoundTripper to apply hooks to each request
type requestModifier struct {
	http.RoundTripper
	hooks []HookFunc
}

func (t *requestModifier) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, hook := range t.hooks {
		if err := hook(req); err != nil {
			return nil, fmt.Errorf("request hook: %w", err)
		}
	}
	return t.RoundTripper.RoundTrip(req)
}

// WithHooks wraps rt so every hook runs, in order, before the request is sent
func WithHooks(rt http.RoundTripper, hooks ...HookFunc) http.RoundTripper {
	if len(hooks) == 0 {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &requestModifier{RoundTripper: rt, hooks: hooks}
}

// proxyTransport builds a transport for proxyURL. Supported schemes are http,
// https and socks5. An empty URL yields nil, meaning the default transport.
func proxyTransport(proxyURL string) (http.RoundTripper, error) {
	if proxyURL == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL %q: %w", proxyURL, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			pass, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: pass}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
		}
		dialContext, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", parsedURL.Host)
		}
		transport.Proxy = nil
		transport.DialContext = dialContext.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q, supported schemes are http, https, socks5", parsedURL.Scheme)
	}
	return transport, nil
}

// CreateHTTPClientWithProxy creates an HTTP client with proxy support. A
// broken proxy setting is logged and the direct default client is used.
func CreateHTTPClientWithProxy(proxyURL string) *http.Client {
	rt, err := proxyTransport(proxyURL)
	if err != nil {
		logrus.WithError(err).Error("Invalid proxy configuration, using default client")
		return http.DefaultClient
	}
	if rt == nil {
		return http.DefaultClient
	}
	return &http.Client{Transport: rt}
}

// ClientOptions configures NewClient
type ClientOptions struct {
	ProxyURL string
	// Timeout bounds the whole exchange including the streamed body. Zero
	// means no limit; use the request context for per-call deadlines.
	Timeout time.Duration
	Hooks   []HookFunc
	// Wrap, when set, decorates the final round tripper (capture, tracing).
	Wrap func(http.RoundTripper) http.RoundTripper
}

// NewClient creates an HTTP client for one provider. Unlike
// CreateHTTPClientWithProxy it reports proxy errors instead of degrading.
func NewClient(opts ClientOptions) (*http.Client, error) {
	rt, err := proxyTransport(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	rt = WithHooks(rt, opts.Hooks...)
	if opts.Wrap != nil {
		rt = opts.Wrap(rt)
	}
	return &http.Client{Transport: rt, Timeout: opts.Timeout}, nil
}
