package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvworks/floorsync/pkg/appcontext"
	"github.com/pvworks/floorsync/pkg/remote"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func response(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
}

func TestExecuteBuildsRequest(t *testing.T) {
	var seen *http.Request
	var seenBody []byte
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		seenBody, _ = io.ReadAll(req.Body)
		return response(201, `{"id":"p1"}`), nil
	})

	c, err := remote.NewClient("http://mes.plant.local/", remote.WithHTTPClient(doer))
	require.NoError(t, err)

	ctx := appcontext.WithStationID(context.Background(), "ST-4")
	resp, err := c.Execute(ctx, "POST", "/api/panels", []byte(`{"barcode":"X"}`), "item-1")
	require.NoError(t, err)

	assert.Equal(t, "http://mes.plant.local/api/panels", seen.URL.String())
	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "application/json", seen.Header.Get("Content-Type"))
	assert.Equal(t, "item-1", seen.Header.Get("X-Idempotency-Key"))
	assert.Equal(t, "ST-4", seen.Header.Get("X-Station-ID"))
	assert.Equal(t, `{"barcode":"X"}`, string(seenBody))

	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, `{"id":"p1"}`, string(resp.Body))
}

func TestExecuteStatusTextFallsBackToStandardText(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return response(503, ""), nil
	})
	c, err := remote.NewClient("http://mes.plant.local", remote.WithHTTPClient(doer))
	require.NoError(t, err)

	resp, err := c.Execute(context.Background(), "POST", "/api/panels", nil, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "Service Unavailable", resp.StatusText)
}

func TestExecuteWrapsTransportFailure(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	c, err := remote.NewClient("http://mes.plant.local", remote.WithHTTPClient(doer))
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "DELETE", "/api/panels/1", nil, "item-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetworkUnavailable)
}

func TestRequestEditorRuns(t *testing.T) {
	var auth string
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		return response(200, "{}"), nil
	})
	c, err := remote.NewClient("http://mes.plant.local", remote.WithHTTPClient(doer),
		remote.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Bearer tok")
			return nil
		}))
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "POST", "/api/panels", []byte("{}"), "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}
