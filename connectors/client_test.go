package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(&ClientConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		RequestsPerSecond: 1000,
		Burst:             100,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestClientGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/products", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"data": [], "total": 0}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	query := url.Values{}
	query.Set("limit", "100")
	resp, err := client.Get(context.Background(), "/v2/products", query)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"data": [], "total": 0}`, string(resp.Body))
}

func TestClientPostEncodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "doctors", payload["entity_type"])

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Post(context.Background(), "/reconcile", map[string]string{"entity_type": "doctors"})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 201, resp.StatusCode)
}

func TestClientNonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Get(context.Background(), "/v2/missing", nil)

	require.NoError(t, err, "callers decide what a non-2xx status means")
	assert.False(t, resp.Success)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestClientCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // every request now fails at the transport level

	client, err := NewClient(&ClientConfig{
		BaseURL:                 server.URL,
		RequestsPerSecond:       1000,
		Burst:                   100,
		BreakerFailureThreshold: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "/v2/products", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	_, err = client.Get(context.Background(), "/v2/products", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "the breaker must reject without dialing")
}

func TestClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(&ClientConfig{}, nil)
	assert.Error(t, err)

	_, err = NewClient(nil, nil)
	assert.Error(t, err)
}
