package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"apphost/internal/errors"

	"github.com/stretchr/testify/require"
)

// Get issues a GET against the status API and closes the body at test end.
func Get(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// ReadBody returns the response body as a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// ErrorBody decodes the error document written by the status API and checks
// the status code.
func ErrorBody(t *testing.T, resp *http.Response, status int) errors.ErrorInfo {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var body errors.HTTPErrorResponse
	DecodeJSON(t, resp, &body)
	return body.Error
}
