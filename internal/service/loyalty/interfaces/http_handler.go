// internal/service/loyalty/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// LoyaltyHandler 封装了 loyalty 服务的 HTTP 处理器
type LoyaltyHandler struct {
	service *application.LoyaltyService
}

// NewLoyaltyHandler 创建一个新的 HTTP 处理器实例
func NewLoyaltyHandler(service *application.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *LoyaltyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /customers", h.handleRegister)
	mux.HandleFunc("GET /customers/{id}/loyalty", h.handleDetails)
	mux.HandleFunc("POST /customers/{id}/points/earn", h.handleAddPoints)
	mux.HandleFunc("POST /customers/{id}/points/redeem", h.handleRedeemPoints)
	mux.HandleFunc("POST /customers/{id}/points/adjust", h.handleAdjustPoints)
	mux.HandleFunc("POST /customers/{id}/points/expire", h.handleExpirePoints)
	mux.HandleFunc("POST /customers/{id}/visits", h.handleRecordVisit)
	mux.HandleFunc("POST /customers/{id}/replay", h.handleReplay)
	mux.HandleFunc("POST /customers/{id}/refresh", h.handleRefresh)
	mux.HandleFunc("POST /customers/{id}/tier/propose", h.handleProposeTier)
	mux.HandleFunc("POST /customers/{id}/tier/confirm", h.handleConfirmTier)
	mux.HandleFunc("GET /customers/{id}/health", h.handleHealth)
	mux.HandleFunc("GET /customers/{id}/custom-segments", h.handleEvaluateCustomSegments)

	mux.HandleFunc("POST /segments/refresh", h.handleRefreshSegments)
	mux.HandleFunc("GET /segments/analysis", h.handleSegmentAnalysis)

	mux.HandleFunc("POST /custom-segments", h.handleCreateCustomSegment)
	mux.HandleFunc("GET /custom-segments", h.handleListCustomSegments)
	mux.HandleFunc("GET /custom-segments/{id}/members", h.handleCustomSegmentMembers)
	mux.HandleFunc("POST /custom-segments/{id}/activate", h.handleSetCustomSegmentActive(true))
	mux.HandleFunc("POST /custom-segments/{id}/deactivate", h.handleSetCustomSegmentActive(false))

	mux.HandleFunc("GET /statistics", h.handleStatistics)
}

func (h *LoyaltyHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		CustomerID string `json:"customerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.RegisterCustomer(ctx, req.CustomerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *LoyaltyHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.GetCustomerLoyaltyDetails(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleAddPoints(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.AddPointsRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.AddPoints(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleRedeemPoints(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.RedeemPointsRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.RedeemPoints(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.AdjustPointsRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.AdjustPoints(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleExpirePoints(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ExpirePointsRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.ExpirePoints(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleRecordVisit(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.RecordVisitRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.RecordVisit(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReplay 在账本不一致时同时返回 409 和对账结果，方便运维直接看到分歧位置。
func (h *LoyaltyHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.Replay(ctx, r.PathValue("id"))
	if err != nil {
		if resp != nil && errors.Is(err, domain.ErrLedgerInconsistency) {
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.RefreshCustomer(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleProposeTier(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ProposeTierChangeRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = r.PathValue("id")
	resp, err := h.service.ProposeTierChange(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleConfirmTier(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.ConfirmTierChange(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.GetCustomerHealthScore(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleEvaluateCustomSegments(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.EvaluateCustomSegments(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleRefreshSegments(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.UpdateAllCustomerSegments(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleSegmentAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.GetSegmentAnalysis(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleCreateCustomSegment(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateCustomSegmentRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.CreateCustomSegment(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *LoyaltyHandler) handleListCustomSegments(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.ListCustomSegments(ctx, r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleCustomSegmentMembers(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.CustomSegmentMembers(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LoyaltyHandler) handleSetCustomSegmentActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		if err := h.service.SetCustomSegmentActive(ctx, r.PathValue("id"), active); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "isActive": active})
	}
}

func (h *LoyaltyHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	f, err := parseStatisticsFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.service.GetLoyaltyStatistics(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseStatisticsFilter 解析 tier、segment、from、to（RFC3339）和 top 查询参数。
func parseStatisticsFilter(r *http.Request) (application.StatisticsFilter, error) {
	q := r.URL.Query()
	f := application.StatisticsFilter{
		Tier:    domain.TierLevel(q.Get("tier")),
		Segment: domain.Segment(q.Get("segment")),
	}
	if f.Tier != "" && !f.Tier.Valid() {
		return f, errors.Wrapf(application.ErrInvalidRequest, "unknown tier %q", f.Tier)
	}
	if f.Segment != "" && f.Segment.Rank() < 0 {
		return f, errors.Wrapf(application.ErrInvalidRequest, "unknown segment %q", f.Segment)
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.Wrapf(application.ErrInvalidRequest, "%s: %v", name, err)
		}
		*dst = &t
	}
	if raw := q.Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, errors.Wrapf(application.ErrInvalidRequest, "top must be a non-negative integer")
		}
		f.TopN = n
	}
	return f, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor 根据错误类型返回 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTransactionType),
		errors.Is(err, domain.ErrInvalidRuleDefinition),
		errors.Is(err, domain.ErrInvalidTierChange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownCustomer),
		errors.Is(err, domain.ErrSegmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoPendingTierChange),
		errors.Is(err, domain.ErrStaleTierChange),
		errors.Is(err, domain.ErrCustomerInactive),
		errors.Is(err, domain.ErrLedgerInconsistency):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWritesHalted):
		return http.StatusLocked
	case errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, port.ErrLockTimeout):
		return http.StatusServiceUnavailable // 客户端稍后重试即可
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, err.Error(), status)
}
