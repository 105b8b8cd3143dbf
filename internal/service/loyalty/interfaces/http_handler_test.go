package interfaces

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewLoyaltyHandler(newTestService(t)).RegisterRoutes(mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLedgerEndpoints(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, http.MethodPost, "/customers", `{"customerId":"c-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(mux, http.MethodPost, "/customers/c-1/points/earn", `{"points":500,"description":"welcome"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res application.LedgerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(500), res.Loyalty.CurrentPoints)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, domain.TxEarnedBonus, res.Transaction.Type)

	rec = do(mux, http.MethodPost, "/customers/c-1/points/redeem", `{"pointsToRedeem":800}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(mux, http.MethodPost, "/customers/c-1/points/redeem", `{"pointsToRedeem":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodPost, "/customers/ghost/points/earn", `{"points":5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(mux, http.MethodPost, "/customers/c-1/points/earn", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/customers/c-1/loyalty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var details application.LoyaltyDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Equal(t, int64(500), details.Loyalty.CurrentPoints)

	rec = do(mux, http.MethodPost, "/customers/c-1/replay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var replay application.ReplayResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.True(t, replay.Consistent)
}

func TestCustomSegmentEndpoints(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusCreated, do(mux, http.MethodPost, "/customers", `{"customerId":"c-1"}`).Code)
	require.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/customers/c-1/visits", `{"amountSpent":250000}`).Code)

	rec := do(mux, http.MethodPost, "/custom-segments", `{
		"name": "visited",
		"conditions": {"rules": [{"field": "totalVisits", "operator": "greater", "value": 0}]}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created application.CustomSegmentCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 1, created.CustomerCount)

	rec = do(mux, http.MethodGet, "/custom-segments/"+created.ID+"/members", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c-1")

	rec = do(mux, http.MethodPost, "/custom-segments", `{"name":"broken","conditions":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/custom-segments/nope/members", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatisticsQueryValidation(t *testing.T) {
	mux := newTestMux(t)

	assert.Equal(t, http.StatusOK, do(mux, http.MethodGet, "/statistics?top=3", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/statistics?tier=DIAMOND", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/statistics?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/statistics?top=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		do(mux, http.MethodGet, "/statistics?from=2026-03-10T00:00:00Z&to=2026-03-01T00:00:00Z", "").Code)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(domain.ErrInsufficientPoints, "redeem"), http.StatusUnprocessableEntity},
		{errors.Wrap(domain.ErrUnknownCustomer, "get"), http.StatusNotFound},
		{domain.ErrWritesHalted, http.StatusLocked},
		{errors.Wrap(port.ErrLockTimeout, "lock"), http.StatusServiceUnavailable},
		{domain.ErrConcurrentModification, http.StatusServiceUnavailable},
		{domain.ErrNoPendingTierChange, http.StatusConflict},
		{domain.ErrStaleTierChange, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
