// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/middleware"
	"rxverify-service/internal/usecase"
	"rxverify-service/pkg/httputil"
)

// DistributorHandler は販売業者APIのハンドラ。
type DistributorHandler struct {
	service *usecase.DistributorService
	authz   Authorizer
}

// NewDistributorHandler は新しいDistributorHandlerを生成する。
func NewDistributorHandler(service *usecase.DistributorService, a Authorizer) *DistributorHandler {
	return &DistributorHandler{service: service, authz: a}
}

// DistributorResponse は販売業者のレスポンス形式。
type DistributorResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	PublicKey           string `json:"public_key"`
	IsVerifiedRegulator bool   `json:"is_verified_regulator"`
	CreatedAt           string `json:"created_at"`
}

// ProvisionResponse は登録直後のレスポンス形式。signing_key は鍵を生成した場合のみ含まれる。
type ProvisionResponse struct {
	DistributorResponse
	SigningKey string `json:"signing_key,omitempty"`
}

type createDistributorRequest struct {
	Name                string `json:"name"`
	PublicKey           string `json:"public_key"`
	IsVerifiedRegulator bool   `json:"is_verified_regulator"`
}

type updateDistributorRequest struct {
	Name                *string `json:"name"`
	PublicKey           *string `json:"public_key"`
	IsVerifiedRegulator *bool   `json:"is_verified_regulator"`
}

func toDistributorResponse(d *domain.Distributor) DistributorResponse {
	return DistributorResponse{
		ID:                  d.ID,
		Name:                d.Name,
		PublicKey:           d.PublicKeyHex(),
		IsVerifiedRegulator: d.IsVerifiedRegulator,
		CreatedAt:           d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create は販売業者を登録する。public_key を省略すると鍵ペアを生成する。
// 登録したユーザーが所有者になる。is_verified_regulator を立てられるのは管理者だけ。
func (h *DistributorHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionDistributorCreate, authz.Resource{}, "") {
		return
	}

	var req createDistributorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}
	if req.IsVerifiedRegulator &&
		!authorize(w, r, h.authz, authz.ActionDistributorSetRegulator, authz.Resource{}, "") {
		return
	}

	prov, err := h.service.Register(r.Context(), usecase.RegisterDistributorInput{
		Name:                req.Name,
		PublicKeyHex:        req.PublicKey,
		IsVerifiedRegulator: req.IsVerifiedRegulator,
		OwnerID:             middleware.PrincipalFromContext(r.Context()).UserID,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_DISTRIBUTOR", "", middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_DISTRIBUTOR", prov.Distributor.ID, middleware.ResultSuccess)
	resp := ProvisionResponse{DistributorResponse: toDistributorResponse(prov.Distributor)}
	if prov.SigningKey != nil {
		resp.SigningKey = hex.EncodeToString(prov.SigningKey)
	}
	httputil.JSON(w, http.StatusCreated, resp)
}

// Get は販売業者を取得する。
func (h *DistributorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionDistributorRead, authz.Resource{}, id) {
		return
	}

	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toDistributorResponse(d))
}

// List は販売業者の一覧を返す。
// ?search= ?verified=true|false で絞り込み、?ordering= で name・is_verified_regulator による並べ替えができる。
func (h *DistributorHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionDistributorRead, authz.Resource{}, "") {
		return
	}

	q := r.URL.Query()
	ordering, err := domain.ParseOrdering(q.Get("ordering"), "name", "is_verified_regulator")
	if err != nil {
		invalidQuery(w, err)
		return
	}
	filter := domain.DistributorFilter{Search: q.Get("search"), Ordering: ordering}
	if v := q.Get("verified"); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", "verified must be true or false")
			return
		}
		filter.Verified = &verified
	}

	ds, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]DistributorResponse, len(ds))
	for i, d := range ds {
		out[i] = toDistributorResponse(d)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"distributors": out})
}

// Update は販売業者を更新する。公開鍵の差し替えもここで行う。
func (h *DistributorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionDistributorUpdate, authz.Resource{}, id) {
		return
	}

	var req updateDistributorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	d, err := h.service.Update(r.Context(), id, usecase.UpdateDistributorInput{
		Name:                req.Name,
		PublicKeyHex:        req.PublicKey,
		IsVerifiedRegulator: req.IsVerifiedRegulator,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "UPDATE_DISTRIBUTOR", id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "UPDATE_DISTRIBUTOR", id, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toDistributorResponse(d))
}
