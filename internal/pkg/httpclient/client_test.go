package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestGetJSONDecodesBodyAndSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "c-1", r.URL.Query().Get("customer_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messagesSent":4,"messagesResponded":1}`))
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"))
	var out struct {
		MessagesSent      int `json:"messagesSent"`
		MessagesResponded int `json:"messagesResponded"`
	}
	err := c.GetJSON(context.Background(), srv.URL+"/signals", url.Values{"customer_id": {"c-1"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, out.MessagesSent)
	assert.Equal(t, 1, out.MessagesResponded)
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"))
	err := c.Post(context.Background(), srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}
