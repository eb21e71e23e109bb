package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/middleware"
	"rxverify-service/internal/usecase"
	"rxverify-service/pkg/httputil"
)

// LotHandler はロットマニフェストと検証APIのハンドラ。
// ロットの登録・更新は管理者か、ロットの販売業者を登録したユーザーだけができる。
type LotHandler struct {
	lots     *usecase.LotService
	verifier *usecase.VerificationService
	scores   *usecase.TrustScoreEngine
	owners   DistributorOwners
	authz    Authorizer
	now      func() time.Time
}

// NewLotHandler は新しいLotHandlerを生成する。
func NewLotHandler(
	lots *usecase.LotService,
	verifier *usecase.VerificationService,
	scores *usecase.TrustScoreEngine,
	owners DistributorOwners,
	a Authorizer,
) *LotHandler {
	return &LotHandler{lots: lots, verifier: verifier, scores: scores, owners: owners, authz: a, now: time.Now}
}

// LotResponse はロットのレスポンス形式。trust_score は小数2桁の数値。
type LotResponse struct {
	ID               string      `json:"id"`
	BatchNumber      string      `json:"batch_number"`
	ExpiryDate       string      `json:"expiry_date"`
	MedicineID       string      `json:"medicine_id"`
	DistributorID    string      `json:"distributor_id"`
	DigitalSignature string      `json:"digital_signature"`
	TrustScore       json.Number `json:"trust_score"`
	SafetyStatus     string      `json:"safety_status"`
	IsExpired        bool        `json:"is_expired"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
}

// VerifyResponse は検証結果のレスポンス形式。
type VerifyResponse struct {
	Status          string      `json:"status"`
	IsAuthentic     bool        `json:"is_authentic"`
	TrustScore      json.Number `json:"trust_score"`
	SafetyStatus    string      `json:"safety_status"`
	UnresolvedFlags int64       `json:"unresolved_flags"`
	LotDetails      LotDetails  `json:"lot_details"`
}

// LotDetails は検証結果に含めるロットと販売業者の概要。
type LotDetails struct {
	ID          string            `json:"id"`
	BatchNumber string            `json:"batch_number"`
	ExpiryDate  string            `json:"expiry_date"`
	MedicineID  string            `json:"medicine_id"`
	IsExpired   bool              `json:"is_expired"`
	Distributor DistributorDetail `json:"distributor"`
}

// DistributorDetail は検証結果に含める販売業者の概要。
type DistributorDetail struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IsVerifiedRegulator bool   `json:"is_verified_regulator"`
}

// BulkVerifyResponse は一括検証のレスポンス形式。
type BulkVerifyResponse struct {
	Total    int                `json:"total"`
	Verified int                `json:"verified"`
	Results  []BulkVerifyResult `json:"results"`
}

// BulkVerifyResult は一括検証の1件分。
type BulkVerifyResult struct {
	LotID       string `json:"lot_id"`
	Status      string `json:"status,omitempty"`
	IsAuthentic bool   `json:"is_authentic"`
	Error       string `json:"error,omitempty"`
}

// RecalculateResponse は再計算結果のレスポンス形式。
type RecalculateResponse struct {
	LotID        string      `json:"lot_id"`
	TrustScore   json.Number `json:"trust_score"`
	SafetyStatus string      `json:"safety_status"`
}

type createLotRequest struct {
	BatchNumber      string `json:"batch_number"`
	ExpiryDate       string `json:"expiry_date"`
	MedicineID       string `json:"medicine_id"`
	DistributorID    string `json:"distributor_id"`
	DigitalSignature string `json:"digital_signature"`
}

type updateLotRequest struct {
	BatchNumber      *string `json:"batch_number"`
	ExpiryDate       *string `json:"expiry_date"`
	MedicineID       *string `json:"medicine_id"`
	DistributorID    *string `json:"distributor_id"`
	DigitalSignature *string `json:"digital_signature"`
}

type bulkVerifyRequest struct {
	LotIDs []string `json:"lot_ids"`
}

func scoreNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func (h *LotHandler) toLotResponse(l *domain.LotManifest) LotResponse {
	return LotResponse{
		ID:               l.ID,
		BatchNumber:      l.BatchNumber,
		ExpiryDate:       l.ExpiryDateString(),
		MedicineID:       l.MedicineID,
		DistributorID:    l.DistributorID,
		DigitalSignature: l.DigitalSignature,
		TrustScore:       scoreNumber(l.TrustScore),
		SafetyStatus:     string(domain.SafetyStatusForScore(l.TrustScore)),
		IsExpired:        l.IsExpired(h.now()),
		CreatedAt:        l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *LotHandler) toVerifyResponse(res *domain.VerificationResult) VerifyResponse {
	return VerifyResponse{
		Status:          string(res.SignatureStatus()),
		IsAuthentic:     res.IsAuthentic,
		TrustScore:      scoreNumber(res.TrustScore),
		SafetyStatus:    string(res.SafetyStatus),
		UnresolvedFlags: res.UnresolvedFlags,
		LotDetails: LotDetails{
			ID:          res.Lot.ID,
			BatchNumber: res.Lot.BatchNumber,
			ExpiryDate:  res.Lot.ExpiryDateString(),
			MedicineID:  res.Lot.MedicineID,
			IsExpired:   res.Lot.IsExpired(h.now()),
			Distributor: DistributorDetail{
				ID:                  res.Distributor.ID,
				Name:                res.Distributor.Name,
				IsVerifiedRegulator: res.Distributor.IsVerifiedRegulator,
			},
		},
	}
}

// Create はクライアントで署名済みのロットを登録する。
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requirePrincipal(w, r, h.authz, authz.ActionLotCreate, "") {
		return
	}

	var req createLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}
	if !authorizeDistributor(w, r, h.authz, h.owners, authz.ActionLotCreate, req.DistributorID, "") {
		return
	}

	lot, err := h.lots.Create(r.Context(), usecase.CreateLotInput(req))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_LOT", "", middleware.ResultFailed)
		writeReferenceError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_LOT", lot.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, h.toLotResponse(lot))
}

// Get はロットを取得する。
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionLotRead, authz.Resource{}, id) {
		return
	}

	lot, err := h.lots.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, h.toLotResponse(lot))
}

// List はロットの一覧を返す。
// ?medicine_id= ?distributor_id= ?min_trust_score= ?expired=true|false ?search= で絞り込み、
// ?ordering=-trust_score,batch_number のように expiry_date・trust_score・batch_number で並べ替えられる。
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionLotRead, authz.Resource{}, "") {
		return
	}

	q := r.URL.Query()
	ordering, err := domain.ParseOrdering(q.Get("ordering"), "expiry_date", "trust_score", "batch_number")
	if err != nil {
		invalidQuery(w, err)
		return
	}
	filter := domain.LotFilter{
		MedicineID:    q.Get("medicine_id"),
		DistributorID: q.Get("distributor_id"),
		Search:        q.Get("search"),
		Ordering:      ordering,
		Now:           h.now(),
	}
	if v := q.Get("min_trust_score"); v != "" {
		score, err := decimal.NewFromString(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", "min_trust_score must be a number")
			return
		}
		filter.MinTrustScore = &score
	}
	if v := q.Get("expired"); v != "" {
		expired, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", "expired must be true or false")
			return
		}
		filter.Expired = &expired
	}

	lots, err := h.lots.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]LotResponse, len(lots))
	for i, l := range lots {
		out[i] = h.toLotResponse(l)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"lots": out})
}

// Update はロットを更新する。署名対象フィールドを変える場合は digital_signature も必要。
// distributor_id を付け替える場合は、現在と変更後の両方の販売業者について権限が必要。
func (h *LotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !requirePrincipal(w, r, h.authz, authz.ActionLotUpdate, id) {
		return
	}

	var req updateLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	current, err := h.lots.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !authorizeDistributor(w, r, h.authz, h.owners, authz.ActionLotUpdate, current.DistributorID, id) {
		return
	}
	if req.DistributorID != nil && *req.DistributorID != current.DistributorID &&
		!authorizeDistributor(w, r, h.authz, h.owners, authz.ActionLotUpdate, *req.DistributorID, id) {
		return
	}

	lot, err := h.lots.Update(r.Context(), id, usecase.UpdateLotInput(req))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "UPDATE_LOT", id, middleware.ResultFailed)
		if errors.Is(err, domain.ErrLotNotFound) {
			writeError(w, r, err)
			return
		}
		writeReferenceError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "UPDATE_LOT", id, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, h.toLotResponse(lot))
}

// Delete はロットとそのフラグを削除する。
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionLotDelete, authz.Resource{}, id) {
		return
	}

	if err := h.lots.Delete(r.Context(), id); err != nil {
		middleware.WriteAuditLog(r.Context(), "DELETE_LOT", id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "DELETE_LOT", id, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// Verify はロットの署名を検証し、保存済みの信頼スコアと合わせて返す。
// 署名が一致しない場合も 200 で Forged/Tampered を返す。
func (h *LotHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionLotVerify, authz.Resource{}, id) {
		return
	}

	res, err := h.verifier.VerifyLot(r.Context(), id)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "VERIFY_LOT", id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_LOT", id, string(res.SignatureStatus()))
	httputil.JSON(w, http.StatusOK, h.toVerifyResponse(res))
}

// BulkVerify は複数ロットの署名をまとめて検証する。lot_ids を省略すると全ロットが対象。
func (h *LotHandler) BulkVerify(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionLotBulkVerify, authz.Resource{}, "") {
		return
	}

	var req bulkVerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badBody(w)
		return
	}

	items, err := h.verifier.VerifyLots(r.Context(), req.LotIDs)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "BULK_VERIFY_LOTS", "", middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	resp := BulkVerifyResponse{
		Total:    len(items),
		Verified: usecase.CountVerified(items),
		Results:  make([]BulkVerifyResult, len(items)),
	}
	for i, item := range items {
		out := BulkVerifyResult{LotID: item.LotID}
		if item.Err != nil {
			out.Error = item.Err.Error()
		} else {
			out.Status = string(item.Result.SignatureStatus())
			out.IsAuthentic = item.Result.IsAuthentic
		}
		resp.Results[i] = out
	}

	middleware.WriteAuditLog(r.Context(), "BULK_VERIFY_LOTS", "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, resp)
}

// Recalculate はロットの信頼スコアを未解決フラグから計算し直す。
func (h *LotHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionLotRecalculate, authz.Resource{}, id) {
		return
	}

	score, err := h.scores.Recalculate(r.Context(), id)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "RECALCULATE_TRUST_SCORE", id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "RECALCULATE_TRUST_SCORE", id, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, RecalculateResponse{
		LotID:        id,
		TrustScore:   scoreNumber(score),
		SafetyStatus: string(domain.SafetyStatusForScore(score)),
	})
}
