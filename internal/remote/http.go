package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openplans/newark2.0/internal/value"
)

// Client defaults applied to zero HTTPOptions fields.
const (
	// DefaultTimeout bounds a whole request, body included.
	DefaultTimeout = 60 * time.Second
	// DefaultConnectTimeout bounds dialing the server.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultTLSTimeout bounds the TLS handshake.
	DefaultTLSTimeout = 5 * time.Second
)

// MaxResponseBytes caps a response body. Larger bodies fail the request
// with ErrResponseTooLarge.
const MaxResponseBytes = 32 << 20

// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// HTTPOptions bounds the HTTP client. Zero fields take the defaults.
type HTTPOptions struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	TLSTimeout     time.Duration
	// MaxBody overrides MaxResponseBytes.
	MaxBody int64
	// Header is added to every request (session cookies, CSRF tokens).
	Header map[string]string
}

// HTTPDoer sends requests to a base URL over net/http.
type HTTPDoer struct {
	baseURL string
	client  *http.Client
	header  map[string]string
	maxBody int64
}

// NewHTTPDoer creates a Doer for baseURL.
func NewHTTPDoer(baseURL string, opts HTTPOptions) *HTTPDoer {
	if opts.MaxBody <= 0 {
		opts.MaxBody = MaxResponseBytes
	}
	return &HTTPDoer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newClient(opts),
		header:  opts.Header,
		maxBody: opts.MaxBody,
	}
}

// newClient never relies on http.DefaultClient, which has no timeouts.
func newClient(opts HTTPOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.TLSTimeout <= 0 {
		opts.TLSTimeout = DefaultTLSTimeout
	}
	dialer := &net.Dialer{
		Timeout: opts.ConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.TLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}

// Do implements Doer.
func (d *HTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := value.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", req, err)
		}
		body = bytes.NewReader(data)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, d.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req, err)
	}
	hreq.Header.Set("Accept", "application/json")
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.header {
		hreq.Header.Set(k, v)
	}
	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}

	r, err := d.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req, err)
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, d.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", req, err)
	}
	if int64(len(data)) > d.maxBody {
		return nil, fmt.Errorf("%s: %w: over %d bytes", req, ErrResponseTooLarge, d.maxBody)
	}
	return &Response{Status: r.StatusCode, Body: data}, nil
}
