package adapter

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/pkg/httpclient"
	"loyaltyhub/internal/service/loyalty/domain"
)

type fixedDiscoverer struct {
	host string
	port int
}

func (d fixedDiscoverer) DiscoverServiceInstance(string) (string, int, error) {
	return d.host, d.port, nil
}

func TestSignalsHTTPAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, signalsPath, r.URL.Path)
		assert.Equal(t, "c-9", r.URL.Query().Get("customer_id"))
		_, _ = w.Write([]byte(`{"feedbackCount":2,"averageRating":4.5,"messagesSent":10,"messagesResponded":3}`))
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	a := NewSignalsHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")),
		fixedDiscoverer{host: host, port: p}, "engagement-service", time.Second)
	got, err := a.Signals(context.Background(), "c-9")
	require.NoError(t, err)
	assert.Equal(t, domain.EngagementSignals{FeedbackCount: 2, AverageRating: 4.5, MessagesSent: 10, MessagesResponded: 3}, got)
}
