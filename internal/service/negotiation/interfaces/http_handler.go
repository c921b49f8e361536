package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/application"
	"bidhub/internal/service/negotiation/domain"
)

// PartyHeader 携带当前操作者 ID，由上游网关完成认证后注入
const PartyHeader = "X-Party-ID"

// NegotiationHandler 封装了谈判服务的 HTTP 处理器
type NegotiationHandler struct {
	service *application.NegotiationService
}

func NewNegotiationHandler(service *application.NegotiationService) *NegotiationHandler {
	return &NegotiationHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *NegotiationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /bids", h.handleCreate)
	mux.HandleFunc("GET /bids/mine", h.handleListMine)
	mux.HandleFunc("GET /bids/{id}", h.handleGet)
	mux.HandleFunc("POST /bids/{id}/counter", h.handleCounter)
	mux.HandleFunc("POST /bids/{id}/accept", h.handleAccept)
	mux.HandleFunc("POST /bids/{id}/reject", h.handleReject)
	mux.HandleFunc("POST /bids/{id}/withdraw", h.handleWithdraw)
	mux.HandleFunc("GET /proposals", h.handleListProposals)
	mux.HandleFunc("GET /products/{id}/highest-bid", h.handleHighest)
}

type createBidBody struct {
	VendorID  string  `json:"vendorId"`
	ProductID string  `json:"productId"`
	Amount    float64 `json:"amount"`
	Quantity  int     `json:"quantity"`
	Message   string  `json:"message,omitempty"`
}

type termsBody struct {
	Amount   float64 `json:"amount"`
	Quantity int     `json:"quantity"`
	Message  string  `json:"message,omitempty"`
}

type rejectBody struct {
	Message string `json:"message,omitempty"`
}

func (h *NegotiationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	var body createBidBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	bid, err := h.service.CreateBid(ctx, &application.CreateBidRequest{
		BuyerID:   party,
		VendorID:  body.VendorID,
		ProductID: body.ProductID,
		Amount:    body.Amount,
		Quantity:  body.Quantity,
		Message:   body.Message,
	})
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.ToBidView(bid))
}

func (h *NegotiationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	bid, err := h.service.GetBid(ctx, r.PathValue("id"), party)
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidView(bid))
}

func (h *NegotiationHandler) handleCounter(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	var body termsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	bid, err := h.service.CounterBid(ctx, &application.CounterBidRequest{
		BidID:    r.PathValue("id"),
		ActorID:  party,
		Amount:   body.Amount,
		Quantity: body.Quantity,
		Message:  body.Message,
	})
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidView(bid))
}

// handleAccept 不读取请求体：成交条款永远以服务端当前有效条款为准
func (h *NegotiationHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	resp, err := h.service.AcceptBid(ctx, r.PathValue("id"), party)
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NegotiationHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	var body rejectBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
			return
		}
	}
	bid, err := h.service.RejectBid(ctx, r.PathValue("id"), party, body.Message)
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidView(bid))
}

func (h *NegotiationHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	bid, err := h.service.WithdrawBid(ctx, r.PathValue("id"), party)
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidView(bid))
}

func (h *NegotiationHandler) handleListMine(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	bids, err := h.service.ListMyBids(ctx, party, domain.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidViews(bids))
}

func (h *NegotiationHandler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	ctx := requestContext(r, map[string]string{"party": party, "bid": r.PathValue("id")})
	bids, err := h.service.ListVendorProposals(ctx, party, domain.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidViews(bids))
}

func (h *NegotiationHandler) handleHighest(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, map[string]string{"product": r.PathValue("id")})
	bid, err := h.service.HighestPending(ctx, r.PathValue("id"))
	if err != nil {
		writeDomainError(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToBidView(bid))
}

// requestContext 接续调用方的 trace，并把请求级字段写入 logger，空值跳过
func requestContext(r *http.Request, fields map[string]string) context.Context {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	stamped := make(map[string]string, len(fields))
	for k, v := range fields {
		if v != "" {
			stamped[k] = v
		}
	}
	return logger.WithContext(ctx, stamped)
}

func requireParty(w http.ResponseWriter, r *http.Request) (string, bool) {
	party := r.Header.Get(PartyHeader)
	if party == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+PartyHeader+" header")
		return "", false
	}
	return party, true
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeDomainError 根据错误类型返回不同的 HTTP 状态码
func writeDomainError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, domain.ErrProductUnavailable):
		status, code = http.StatusUnprocessableEntity, "product_unavailable"
	case errors.Is(err, domain.ErrBidNotFound):
		status, code = http.StatusNotFound, "bid_not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, domain.ErrNotYourTurn):
		status, code = http.StatusConflict, "not_your_turn"
	case errors.Is(err, domain.ErrBidNotPending):
		status, code = http.StatusConflict, "bid_not_pending"
	case errors.Is(err, domain.ErrBidExpired):
		status, code = http.StatusGone, "bid_expired"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrOutOfStock):
		status, code = http.StatusConflict, "out_of_stock"
	case errors.Is(err, domain.ErrDownstreamFailure):
		status, code = http.StatusBadGateway, "downstream_failure"
	default:
		logger.Ctx(ctx).Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error(), Retryable: application.IsRetryable(err)})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
