package handler

import (
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

// FlagHandler は品質フラグAPIのハンドラ。
type FlagHandler struct {
	service *usecase.FlagService
	authz   Authorizer
}

// NewFlagHandler は新しいFlagHandlerを生成する。
func NewFlagHandler(service *usecase.FlagService, a Authorizer) *FlagHandler {
	return &FlagHandler{service: service, authz: a}
}

// FlagResponse はフラグのレスポンス形式。
type FlagResponse struct {
	ID           string `json:"id"`
	ReporterType string `json:"reporter_type"`
	IssueType    string `json:"issue_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	UserID       string `json:"user_id"`
	LotID        string `json:"lot_id"`
	IsResolved   bool   `json:"is_resolved"`
	CreatedAt    string `json:"created_at"`
}

type createFlagRequest struct {
	ReporterType string `json:"reporter_type"`
	IssueType    string `json:"issue_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	LotID        string `json:"lot_id"`
}

type updateFlagRequest struct {
	ReporterType *string `json:"reporter_type"`
	IssueType    *string `json:"issue_type"`
	Severity     *string `json:"severity"`
	Description  *string `json:"description"`
	IsResolved   *bool   `json:"is_resolved"`
	LotID        *string `json:"lot_id"`
}

func toFlagResponse(f *domain.CrowdFlag) FlagResponse {
	return FlagResponse{
		ID:           f.ID,
		ReporterType: f.ReporterType,
		IssueType:    f.IssueType,
		Severity:     string(f.Severity),
		Description:  f.Description,
		UserID:       f.UserID,
		LotID:        f.LotID,
		IsResolved:   f.IsResolved,
		CreatedAt:    f.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create はフラグを報告する。報告者は呼び出し元のユーザー。
func (h *FlagHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionFlagCreate, authz.Resource{}, "") {
		return
	}

	var req createFlagRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	flag, err := h.service.Create(r.Context(), usecase.CreateFlagInput{
		ReporterType: req.ReporterType,
		IssueType:    req.IssueType,
		Severity:     req.Severity,
		Description:  req.Description,
		LotID:        req.LotID,
		UserID:       middleware.PrincipalFromContext(r.Context()).UserID,
	})
	if err != nil {
		resourceID := ""
		if flag != nil {
			resourceID = flag.ID
		}
		middleware.WriteAuditLog(r.Context(), "CREATE_FLAG", resourceID, middleware.ResultFailed)
		writeReferenceError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_FLAG", flag.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toFlagResponse(flag))
}

// Get はフラグを取得する。
func (h *FlagHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionFlagRead, authz.Resource{}, id) {
		return
	}

	flag, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toFlagResponse(flag))
}

// List はフラグの一覧を返す。
// ?resolved= ?issue_type= ?reporter_type= ?lot_id= ?my_flags=true ?search= で絞り込み、
// ?ordering= で created_at・issue_type・is_resolved による並べ替えができる。
func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionFlagRead, authz.Resource{}, "") {
		return
	}

	q := r.URL.Query()
	ordering, err := domain.ParseOrdering(q.Get("ordering"), "created_at", "issue_type", "is_resolved")
	if err != nil {
		invalidQuery(w, err)
		return
	}
	filter := domain.FlagFilter{
		IssueType:    q.Get("issue_type"),
		ReporterType: q.Get("reporter_type"),
		LotID:        q.Get("lot_id"),
		Search:       q.Get("search"),
		Ordering:     ordering,
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", "resolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}
	if mine, _ := strconv.ParseBool(q.Get("my_flags")); mine {
		filter.UserID = middleware.PrincipalFromContext(r.Context()).UserID
	}

	flags, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]FlagResponse, len(flags))
	for i, f := range flags {
		out[i] = toFlagResponse(f)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"flags": out})
}

// Update はフラグを更新する。対象ロットは変更できない。
func (h *FlagHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorizeOwned(w, r, authz.ActionFlagUpdate, id) {
		return
	}

	var req updateFlagRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	flag, err := h.service.Update(r.Context(), id, usecase.UpdateFlagInput(req))
	h.respondMutation(w, r, "UPDATE_FLAG", id, flag, err)
}

// Resolve はフラグを解決済みにする。
func (h *FlagHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorizeOwned(w, r, authz.ActionFlagResolve, id) {
		return
	}
	flag, err := h.service.Resolve(r.Context(), id)
	h.respondMutation(w, r, "RESOLVE_FLAG", id, flag, err)
}

// Unresolve はフラグを未解決に戻す。
func (h *FlagHandler) Unresolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorizeOwned(w, r, authz.ActionFlagUnresolve, id) {
		return
	}
	flag, err := h.service.Unresolve(r.Context(), id)
	h.respondMutation(w, r, "UNRESOLVE_FLAG", id, flag, err)
}

// Delete はフラグを削除する。
func (h *FlagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionFlagDelete, authz.Resource{}, id) {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		middleware.WriteAuditLog(r.Context(), "DELETE_FLAG", id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "DELETE_FLAG", id, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// authorizeOwned は報告者本人かどうかを判定に含めるため、先にフラグを読み込む。
func (h *FlagHandler) authorizeOwned(w http.ResponseWriter, r *http.Request, action authz.Action, id string) bool {
	p := middleware.PrincipalFromContext(r.Context())
	if p.IsAnonymous() {
		return authorize(w, r, h.authz, action, authz.Resource{}, id)
	}

	flag, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	return authorize(w, r, h.authz, action, authz.Resource{OwnerID: flag.UserID}, id)
}

func (h *FlagHandler) respondMutation(w http.ResponseWriter, r *http.Request, operation, id string, flag *domain.CrowdFlag, err error) {
	if err != nil {
		middleware.WriteAuditLog(r.Context(), operation, id, middleware.ResultFailed)
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), operation, id, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toFlagResponse(flag))
}
