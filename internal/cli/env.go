// Package cli implements the tingly-loop subcommands.
package cli

import (
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/config"
	"github.com/tingly-dev/tingly-loop/internal/llmclient"
	"github.com/tingly-dev/tingly-loop/internal/llmclient/httpclient"
	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
	"github.com/tingly-dev/tingly-loop/internal/protocol/stream"
)

// Env carries the process-wide settings resolved by the root command
type Env struct {
	Version    string
	ConfigPath string
	Logger     *logrus.Logger
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
}

// clientOptions are the per-run knobs that are not part of a provider
type clientOptions struct {
	model   string
	stream  *bool
	capture io.Writer
	onEvent func(stream.Event)
}

// newClient wires adapter, HTTP transport and parser for one provider
func newClient(env *Env, p *config.Provider, opts clientOptions) (*llmclient.Client, error) {
	log := env.Logger.WithField("provider", p.Name)

	adapter, err := dialect.Resolve(p.Dialect, dialect.WithLogger(log))
	if err != nil {
		return nil, err
	}

	httpOpts := httpclient.ClientOptions{
		ProxyURL: p.ProxyURL,
		Timeout:  p.Timeout(),
		Hooks:    []httpclient.HookFunc{httpclient.UserAgentHook("tingly-loop/" + env.Version)},
	}
	if opts.capture != nil {
		httpOpts.Wrap = func(rt http.RoundTripper) http.RoundTripper {
			return httpclient.NewCaptureRoundTripper(rt, opts.capture)
		}
	}
	httpClient, err := httpclient.NewClient(httpOpts)
	if err != nil {
		return nil, err
	}

	cfg := llmclient.Config{
		BaseURL:     p.BaseURL,
		Endpoint:    p.Endpoint,
		Model:       p.Model,
		Auth:        p.DialectAuth(),
		Headers:     p.Headers,
		Stream:      p.Streaming(),
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.stream != nil {
		cfg.Stream = *opts.stream
	}

	clientOpts := []llmclient.Option{llmclient.WithLogger(log)}
	if opts.onEvent != nil {
		clientOpts = append(clientOpts, llmclient.WithOnEvent(opts.onEvent))
	}
	transport := httpclient.NewTransport(httpClient, log, httpclient.WithRetry(httpclient.DefaultRetryConfig(p.MaxRetries)))
	return llmclient.New(adapter, transport, cfg, clientOpts...), nil
}
