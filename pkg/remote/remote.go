// Package remote is the JSON-over-HTTP transport to the system of record.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pvworks/floorsync/pkg/appcontext"
)

// ErrNetworkUnavailable marks a transport failure where no response was
// received. These failures are retryable.
var ErrNetworkUnavailable = errors.New("network unavailable")

// RequestEditorFn is the function signature for the RequestEditor callback function.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// HttpRequestDoer performs HTTP requests.
//
// The standard http.Client implements this interface.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues queued mutations against the remote service.
type Client struct {
	// Server is the endpoint of the remote service, with scheme, e.g.
	// http://mes.plant.local:8080. Resource paths are appended to it.
	Server string

	// Doer for performing requests, typically a *http.Client with any
	// customized settings, such as certificate chains.
	Client HttpRequestDoer

	// A list of callbacks for modifying requests which are generated before
	// sending over the network.
	RequestEditors []RequestEditorFn
}

// ClientOption allows setting custom parameters during construction.
type ClientOption func(*Client) error

// NewClient creates a new Client with reasonable defaults.
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	client := Client{Server: server}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	client.Server = strings.TrimSuffix(client.Server, "/")
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	return &client, nil
}

// WithHTTPClient allows overriding the default Doer, which is
// automatically created using http.Client. This is useful for tests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn allows setting up a callback function, which will be
// called right before sending the request. This can be used to mutate the request.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// Response is the classified remote answer. The body of a 2xx is opaque to
// the engine; the body of a 409 is the authoritative remote entity.
type Response struct {
	StatusCode int
	StatusText string
	Body       []byte
}

// Execute sends one mutation. itemID is stamped as X-Idempotency-Key so the
// remote side can de-duplicate the at-least-once resubmission window after
// a crash between "remote succeeded" and "marked synced". A transport
// failure wraps ErrNetworkUnavailable.
func (c *Client) Execute(ctx context.Context, method, path string, body []byte, itemID string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Server+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if itemID != "" {
		req.Header.Set("X-Idempotency-Key", itemID)
	}
	if stationID, ok := appcontext.GetStationID(ctx); ok {
		req.Header.Set("X-Station-ID", stationID)
	}
	for _, editor := range c.RequestEditors {
		if err := editor(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Body:       respBody,
	}, nil
}

// statusText prefers the wire status line, falling back to the standard
// text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
