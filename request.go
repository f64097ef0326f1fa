package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical call relative to a client's module path.
type Request struct {
	Method   string
	Endpoint string
	Body     any
	Options  []CallOption
}

// Response is the full response envelope. Body is returned as received; the
// client never unwraps nested payload fields.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("apiclient: decode: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("apiclient: decode: %w", err)
	}
	return nil
}

// CallOption overrides request defaults for a single call.
type CallOption func(*callConfig)

type callConfig struct {
	header  http.Header
	params  url.Values
	timeout time.Duration
}

// Header sets a request header for this call.
func Header(key, value string) CallOption {
	return func(c *callConfig) { c.header.Set(key, value) }
}

// Headers sets several request headers for this call.
func Headers(h map[string]string) CallOption {
	return func(c *callConfig) {
		for k, v := range h {
			c.header.Set(k, v)
		}
	}
}

// Param adds a query parameter.
func Param(key, value string) CallOption {
	return func(c *callConfig) { c.params.Add(key, value) }
}

// Params adds query parameters.
func Params(v url.Values) CallOption {
	return func(c *callConfig) {
		for k, vals := range v {
			for _, val := range vals {
				c.params.Add(k, val)
			}
		}
	}
}

// Timeout overrides the client timeout for this call.
func Timeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

func newCallConfig(opts []CallOption) *callConfig {
	cc := &callConfig{header: http.Header{}, params: url.Values{}}
	for _, o := range opts {
		o(cc)
	}
	return cc
}

// MultipartBody is a pre-encoded multipart/form-data payload. Its content
// type carries the boundary and replaces the JSON default.
type MultipartBody struct {
	ContentType string
	Data        []byte
}

// FilePart is one file field of a multipart body.
type FilePart struct {
	Field    string
	Filename string
	Content  io.Reader
}

// NewMultipartBody encodes fields and files as multipart/form-data.
func NewMultipartBody(fields map[string]string, files ...FilePart) (*MultipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("apiclient: multipart field %q: %w", k, err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("apiclient: multipart file %q: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("apiclient: multipart file %q: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: multipart close: %w", err)
	}
	return &MultipartBody{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

// encodeBody renders body once so every attempt replays the same bytes.
// The returned content type is empty when the JSON default applies.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case *MultipartBody:
		return b.Data, b.ContentType, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: read request body: %w", err)
		}
		if rc, ok := b.(io.Closer); ok {
			rc.Close()
		}
		return data, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: marshal request: %w", err)
		}
		return data, "", nil
	}
}

// NormalizeModulePath trims surrounding slashes, collapses repeated inner
// slashes and prefixes exactly one slash. Empty input yields "".
func NormalizeModulePath(p string) string {
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

// joinEndpoint appends endpoint to prefix with a single separating slash.
func joinEndpoint(prefix, endpoint string) string {
	switch {
	case endpoint == "":
		return prefix
	case strings.HasPrefix(endpoint, "?"):
		return prefix + endpoint
	case strings.HasPrefix(endpoint, "/"):
		return prefix + "/" + strings.TrimLeft(endpoint, "/")
	default:
		return prefix + "/" + endpoint
	}
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vals := range params {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseBaseURL validates an absolute http(s) origin and drops any trailing
// slash.
func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidBaseURL, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
