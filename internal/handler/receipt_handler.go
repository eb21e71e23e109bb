package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/middleware"
	"rxverify-service/internal/usecase"
	"rxverify-service/pkg/httputil"
)

// ReceiptHandler はロット受領記録APIのハンドラ。記録の更新・削除は提供しない。
type ReceiptHandler struct {
	service *usecase.ReceiptService
	authz   Authorizer
}

// NewReceiptHandler は新しいReceiptHandlerを生成する。
func NewReceiptHandler(service *usecase.ReceiptService, a Authorizer) *ReceiptHandler {
	return &ReceiptHandler{service: service, authz: a}
}

// ReceiptResponse は受領記録のレスポンス形式。
type ReceiptResponse struct {
	ID             string          `json:"id"`
	LocationCoord  domain.GeoPoint `json:"location_coord"`
	UserID         string          `json:"user_id"`
	LotID          string          `json:"lot_id"`
	LotBatchNumber string          `json:"lot_batch_number"`
	CreatedAt      string          `json:"created_at"`
}

type createReceiptRequest struct {
	LotID         string           `json:"lot_id"`
	LocationCoord *domain.GeoPoint `json:"location_coord"`
}

func toReceiptResponse(v *usecase.ReceiptView) ReceiptResponse {
	return ReceiptResponse{
		ID:             v.ID,
		LocationCoord:  v.Location,
		UserID:         v.UserID,
		LotID:          v.LotID,
		LotBatchNumber: v.LotBatchNumber,
		CreatedAt:      v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create はロットの受領を記録する。記録者は呼び出し元の薬剤師。
func (h *ReceiptHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionReceiptCreate, authz.Resource{}, "") {
		return
	}

	var req createReceiptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	v, err := h.service.Create(r.Context(), usecase.CreateReceiptInput{
		LotID:    req.LotID,
		Location: req.LocationCoord,
		UserID:   middleware.PrincipalFromContext(r.Context()).UserID,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_RECEIPT", "", middleware.ResultFailed)
		writeReferenceError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_RECEIPT", v.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toReceiptResponse(v))
}

// Get は受領記録を取得する。
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionReceiptRead, authz.Resource{}, id) {
		return
	}

	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toReceiptResponse(v))
}

// List は受領記録の一覧を返す。
// ?user_id= ?lot_id= ?date_from=YYYY-MM-DD ?date_to=YYYY-MM-DD で絞り込み、?ordering=created_at で古い順にできる。
func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionReceiptRead, authz.Resource{}, "") {
		return
	}

	q := r.URL.Query()
	ordering, err := domain.ParseOrdering(q.Get("ordering"), "created_at")
	if err != nil {
		invalidQuery(w, err)
		return
	}
	filter := domain.ReceiptFilter{
		UserID:   q.Get("user_id"),
		LotID:    q.Get("lot_id"),
		Ordering: ordering,
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"date_from", &filter.DateFrom}, {"date_to", &filter.DateTo}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		d, err := time.Parse(domain.ExpiryDateLayout, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", p.name+" must be YYYY-MM-DD")
			return
		}
		*p.dst = &d
	}

	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ReceiptResponse, len(views))
	for i, v := range views {
		out[i] = toReceiptResponse(v)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"receipts": out})
}
