package dialect

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/sjson"
)

// requestShape holds the per-dialect constants used when building requests
type requestShape struct {
	defaultEndpoint   string
	defaultAuthHeader string
	fixedHeaders      map[string]string
}

func buildHTTPRequest(shape requestShape, in RequestInput, body []byte) (*Request, error) {
	endpoint := in.Endpoint
	if endpoint == "" {
		endpoint = shape.defaultEndpoint
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if in.Params.Stream {
		headers.Set("Accept", "text/event-stream")
	} else {
		headers.Set("Accept", "application/json")
	}
	for k, v := range shape.fixedHeaders {
		headers.Set(k, v)
	}
	if err := applyAuth(headers, in.Auth, shape.defaultAuthHeader); err != nil {
		return nil, err
	}
	// Custom headers win over everything above
	for k, v := range in.Headers {
		headers.Set(k, v)
	}

	body, err := applyExtra(body, in.Params.Extra)
	if err != nil {
		return nil, err
	}

	return &Request{
		URL:     joinURL(in.BaseURL, endpoint),
		Method:  http.MethodPost,
		Headers: headers,
		Body:    body,
	}, nil
}

func joinURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	if endpoint == "" {
		return base
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

func applyAuth(h http.Header, auth Auth, defaultHeader string) error {
	switch auth.Mode {
	case "", AuthNone:
		return nil
	case AuthBearer:
		if auth.Token != "" {
			h.Set("Authorization", "Bearer "+auth.Token)
		}
		return nil
	case AuthHeader:
		name := auth.Header
		if name == "" {
			name = defaultHeader
		}
		if name == "" {
			return fmt.Errorf("dialect: auth mode %q requires a header name", auth.Mode)
		}
		if auth.Token != "" {
			h.Set(name, auth.Token)
		}
		return nil
	default:
		return fmt.Errorf("dialect: unsupported auth mode %q", auth.Mode)
	}
}

// applyExtra merges caller supplied fields in a stable order
func applyExtra(body []byte, extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, extra[k])
		if err != nil {
			return nil, fmt.Errorf("dialect: set extra field %q: %w", k, err)
		}
	}
	return body, nil
}

// bodyBuilder accumulates sjson writes and remembers the first failure
type bodyBuilder struct {
	buf []byte
	err error
}

func newBody() *bodyBuilder {
	return &bodyBuilder{buf: []byte(`{}`)}
}

func (b *bodyBuilder) set(path string, v any) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetBytes(b.buf, path, v)
}

func (b *bodyBuilder) setRaw(path string, raw []byte) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetRawBytes(b.buf, path, raw)
}

func (b *bodyBuilder) bytes() ([]byte, error) {
	if b.err != nil {
		return nil, fmt.Errorf("dialect: encode body: %w", b.err)
	}
	return b.buf, nil
}

// setSampling writes the options shared by every dialect
func (b *bodyBuilder) setSampling(p Params) {
	if p.Temperature != nil {
		b.set("temperature", *p.Temperature)
	}
	if p.TopP != nil {
		b.set("top_p", *p.TopP)
	}
}
