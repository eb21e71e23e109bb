package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/middleware"
	"rxverify-service/pkg/httputil"
)

// Authorizer は操作の可否を判定する。
type Authorizer interface {
	Authorize(ctx context.Context, p domain.Principal, action authz.Action, res authz.Resource) error
}

// authorize は判定に失敗した場合にレスポンスを書き込み false を返す。
func authorize(w http.ResponseWriter, r *http.Request, a Authorizer, action authz.Action, res authz.Resource, resourceID string) bool {
	err := a.Authorize(r.Context(), middleware.PrincipalFromContext(r.Context()), action, res)
	if err == nil {
		return true
	}
	middleware.WriteAuditLog(r.Context(), string(action), resourceID, middleware.ResultDenied)
	writeError(w, r, err)
	return false
}

// DistributorOwners は販売業者を登録したユーザーを引く。
type DistributorOwners interface {
	OwnerOf(ctx context.Context, distributorID string) (string, error)
}

// requirePrincipal は所有者の解決やボディの読み込みより前に匿名の呼び出しを拒否する。
func requirePrincipal(w http.ResponseWriter, r *http.Request, a Authorizer, action authz.Action, resourceID string) bool {
	if !middleware.PrincipalFromContext(r.Context()).IsAnonymous() {
		return true
	}
	return authorize(w, r, a, action, authz.Resource{}, resourceID)
}

// authorizeDistributor は販売業者の所有者を判定に含めて認可する。
// 販売業者が見つからない場合は所有者なしとして判定し、許可されれば後続の処理が参照エラーを返す。
func authorizeDistributor(w http.ResponseWriter, r *http.Request, a Authorizer, owners DistributorOwners, action authz.Action, distributorID, resourceID string) bool {
	owner, err := owners.OwnerOf(r.Context(), distributorID)
	if err != nil && !errors.Is(err, domain.ErrDistributorNotFound) {
		writeError(w, r, err)
		return false
	}
	return authorize(w, r, a, action, authz.Resource{OwnerID: owner}, resourceID)
}

// writeError はドメインエラーをHTTPステータスとエラーコードに変換する。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "FORBIDDEN", "operation not permitted for this role")
	case errors.Is(err, domain.ErrScoreSyncFailed):
		httputil.Error(w, http.StatusServiceUnavailable, "OPERATION_FAILED", "the flag was saved but the trust score was not recalculated, retry with recalculate")
	case errors.Is(err, domain.ErrDistributorNotFound):
		httputil.Error(w, http.StatusNotFound, "DISTRIBUTOR_NOT_FOUND", "distributor not found")
	case errors.Is(err, domain.ErrMedicineNotFound):
		httputil.Error(w, http.StatusNotFound, "MEDICINE_NOT_FOUND", "medicine not found")
	case errors.Is(err, domain.ErrLotNotFound):
		httputil.Error(w, http.StatusNotFound, "LOT_NOT_FOUND", "lot manifest not found")
	case errors.Is(err, domain.ErrFlagNotFound):
		httputil.Error(w, http.StatusNotFound, "FLAG_NOT_FOUND", "crowd flag not found")
	case errors.Is(err, domain.ErrReceiptNotFound):
		httputil.Error(w, http.StatusNotFound, "RECEIPT_NOT_FOUND", "receipt event not found")
	case errors.Is(err, domain.ErrBatchNumberAlreadyExists):
		httputil.Error(w, http.StatusConflict, "BATCH_NUMBER_ALREADY_EXISTS", "batch number already exists")
	case errors.Is(err, domain.ErrInvalidPublicKey):
		httputil.Error(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", err.Error())
	case errors.Is(err, domain.ErrInvalidSeverity):
		httputil.Error(w, http.StatusBadRequest, "INVALID_SEVERITY", err.Error())
	case errors.Is(err, domain.ErrInvalidExpiryDate):
		httputil.Error(w, http.StatusBadRequest, "INVALID_EXPIRY_DATE", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, domain.ErrFlagLotImmutable):
		httputil.Error(w, http.StatusUnprocessableEntity, "FLAG_LOT_IMMUTABLE", "the lot of a flag cannot be changed")
	case errors.Is(err, domain.ErrSignatureRequired):
		httputil.Error(w, http.StatusUnprocessableEntity, "SIGNATURE_REQUIRED", err.Error())
	case errors.Is(err, domain.ErrSignatureInvalid):
		httputil.Error(w, http.StatusUnprocessableEntity, "SIGNATURE_INVALID", "signature does not match the lot fields and the distributor key")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		httputil.Error(w, http.StatusServiceUnavailable, "OPERATION_FAILED", "the lot is busy, retry later")
	default:
		slog.ErrorContext(r.Context(), "unhandled error",
			"operation", "write_error",
			"path", r.URL.Path,
			"error", err,
		)
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// writeReferenceError は作成時に参照先が見つからない場合を 422 として返す。
// 書き込み確定後のスコア再計算の失敗は writeError と同じく 503。
func writeReferenceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrScoreSyncFailed):
		writeError(w, r, err)
	case errors.Is(err, domain.ErrDistributorNotFound),
		errors.Is(err, domain.ErrMedicineNotFound),
		errors.Is(err, domain.ErrLotNotFound):
		httputil.Error(w, http.StatusUnprocessableEntity, "UNKNOWN_REFERENCE", err.Error())
	default:
		writeError(w, r, err)
	}
}

func badBody(w http.ResponseWriter) {
	httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
}

func invalidQuery(w http.ResponseWriter, err error) {
	httputil.Error(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
}
