package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/middleware"
	"rxverify-service/internal/usecase"
	"rxverify-service/pkg/httputil"
)

// MedicineHandler は医薬品カタログAPIのハンドラ。
type MedicineHandler struct {
	service *usecase.MedicineService
	owners  DistributorOwners
	authz   Authorizer
}

// NewMedicineHandler は新しいMedicineHandlerを生成する。
func NewMedicineHandler(service *usecase.MedicineService, owners DistributorOwners, a Authorizer) *MedicineHandler {
	return &MedicineHandler{service: service, owners: owners, authz: a}
}

// MedicineResponse は医薬品のレスポンス形式。
type MedicineResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	ActiveIngredient string `json:"active_ingredient"`
	Strength         string `json:"strength"`
	DosageForm       string `json:"dosage_form"`
	ManufacturerName string `json:"manufacturer_name"`
	DistributorID    string `json:"distributor_id"`
}

type createMedicineRequest struct {
	Name             string `json:"name"`
	Category         string `json:"category"`
	ActiveIngredient string `json:"active_ingredient"`
	Strength         string `json:"strength"`
	DosageForm       string `json:"dosage_form"`
	ManufacturerName string `json:"manufacturer_name"`
	DistributorID    string `json:"distributor_id"`
}

func toMedicineResponse(m *domain.Medicine) MedicineResponse {
	return MedicineResponse{
		ID:               m.ID,
		Name:             m.Name,
		Category:         m.Category,
		ActiveIngredient: m.ActiveIngredient,
		Strength:         m.Strength,
		DosageForm:       m.DosageForm,
		ManufacturerName: m.ManufacturerName,
		DistributorID:    m.DistributorID,
	}
}

// Create は医薬品を登録する。販売業者の名義で登録できるのは管理者とその販売業者の所有者だけ。
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requirePrincipal(w, r, h.authz, authz.ActionMedicineCreate, "") {
		return
	}

	var req createMedicineRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}
	if !authorizeDistributor(w, r, h.authz, h.owners, authz.ActionMedicineCreate, req.DistributorID, "") {
		return
	}

	m, err := h.service.Create(r.Context(), usecase.CreateMedicineInput(req))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_MEDICINE", "", middleware.ResultFailed)
		writeReferenceError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_MEDICINE", m.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toMedicineResponse(m))
}

// Get は医薬品を取得する。
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, h.authz, authz.ActionMedicineRead, authz.Resource{}, id) {
		return
	}

	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toMedicineResponse(m))
}

// List は医薬品の一覧を返す。
// ?distributor_id= ?category= ?search= で絞り込み、?ordering=name,-category で並べ替えられる。
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.authz, authz.ActionMedicineRead, authz.Resource{}, "") {
		return
	}

	q := r.URL.Query()
	ordering, err := domain.ParseOrdering(q.Get("ordering"), "name", "category")
	if err != nil {
		invalidQuery(w, err)
		return
	}
	ms, err := h.service.List(r.Context(), domain.MedicineFilter{
		DistributorID: q.Get("distributor_id"),
		Category:      q.Get("category"),
		Search:        q.Get("search"),
		Ordering:      ordering,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]MedicineResponse, len(ms))
	for i, m := range ms {
		out[i] = toMedicineResponse(m)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"medicines": out})
}
