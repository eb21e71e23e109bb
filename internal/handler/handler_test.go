package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rxverify-service/internal/authz"
	"rxverify-service/internal/domain"
	"rxverify-service/internal/infra"
	"rxverify-service/internal/middleware"
	"rxverify-service/internal/repository"
	"rxverify-service/internal/signing"
	"rxverify-service/internal/usecase"
)

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	router http.Handler
	lots   *LotHandler
}

// recalcFunc は関数を usecase.ScoreRecalculator として使う。
type recalcFunc func(ctx context.Context, lotID string) (decimal.Decimal, error)

func (f recalcFunc) Recalculate(ctx context.Context, lotID string) (decimal.Decimal, error) {
	return f(ctx, lotID)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith は wrapHooks が nil でなければ、フラグのフックが使う再計算をそれで包む。
func newTestServerWith(t *testing.T, wrapHooks func(db *gorm.DB, next usecase.ScoreRecalculator) usecase.ScoreRecalculator) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.AutoMigrate(ctx, db))

	engine, err := authz.NewEngine(ctx)
	require.NoError(t, err)

	distributorRepo := repository.NewDistributorRepository(db)
	medicineRepo := repository.NewMedicineRepository(db)
	lotRepo := repository.NewLotRepository(db)
	flagRepo := repository.NewFlagRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)

	scores := usecase.NewTrustScoreEngine(lotRepo, infra.NewMemoryLotLocker(time.Second))
	distributors := usecase.NewDistributorService(distributorRepo)
	var hookScores usecase.ScoreRecalculator = scores
	if wrapHooks != nil {
		hookScores = wrapHooks(db, scores)
	}
	lots := NewLotHandler(
		usecase.NewLotService(lotRepo, medicineRepo, distributorRepo),
		usecase.NewVerificationService(lotRepo, distributorRepo, flagRepo, 4),
		scores,
		distributors,
		engine,
	)

	router := NewRouter(Handlers{
		Distributors: NewDistributorHandler(distributors, engine),
		Medicines:    NewMedicineHandler(usecase.NewMedicineService(medicineRepo, distributorRepo), distributors, engine),
		Lots:         lots,
		Flags:        NewFlagHandler(usecase.NewFlagService(flagRepo, usecase.NewFlagHooks(hookScores)), engine),
		Receipts:     NewReceiptHandler(usecase.NewReceiptService(receiptRepo, lotRepo), engine),
	})
	return &testServer{t: t, db: db, router: router, lots: lots}
}

// do はリクエストを送り、レスポンスボディをJSONとして返す。
func (s *testServer) do(method, path string, p domain.Principal, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if p.UserID != "" {
		req.Header.Set(middleware.HeaderUserID, p.UserID)
		req.Header.Set(middleware.HeaderUserRole, string(p.Role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

var (
	admin       = domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
	distributor = domain.Principal{UserID: "dist-user", Role: domain.RoleDistributor}
	pharmacist  = domain.Principal{UserID: "pharm-1", Role: domain.RolePharmacist}
	patient     = domain.Principal{UserID: "patient-1", Role: domain.RolePatient}
	rival       = domain.Principal{UserID: "rival-user", Role: domain.RoleDistributor}
	anonymous   = domain.Principal{}
)

// seed は販売業者・医薬品・署名済みロットを作成し、ロットIDと署名鍵を返す。
func (s *testServer) seed(batch string) (lotID, distID string, key ed25519.PrivateKey) {
	s.t.Helper()
	code, dist := s.do(http.MethodPost, "/v1/distributors", distributor, map[string]any{"name": "Acme Pharma"})
	require.Equal(s.t, http.StatusCreated, code)
	distID = dist["id"].(string)
	seed, err := hex.DecodeString(dist["signing_key"].(string))
	require.NoError(s.t, err)
	key = ed25519.NewKeyFromSeed(seed)

	code, med := s.do(http.MethodPost, "/v1/medicines", distributor, map[string]any{
		"name": "Amoxicillin", "strength": "500mg", "distributor_id": distID,
	})
	require.Equal(s.t, http.StatusCreated, code)

	code, lot := s.do(http.MethodPost, "/v1/lots", distributor, map[string]any{
		"batch_number":      batch,
		"expiry_date":       "2030-01-01",
		"medicine_id":       med["id"],
		"distributor_id":    distID,
		"digital_signature": sign(s.t, key, batch, "2030-01-01", distID),
	})
	require.Equal(s.t, http.StatusCreated, code, lot)
	return lot["id"].(string), distID, key
}

func sign(t *testing.T, key ed25519.PrivateKey, batch, expiry, distID string) string {
	t.Helper()
	d, err := domain.ParseExpiryDate(expiry)
	require.NoError(t, err)
	return hex.EncodeToString(ed25519.Sign(key, signing.CanonicalMessage(batch, d, distID)))
}

func TestDistributors_GenerateReturnsSigningKeyOnce(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/v1/distributors", distributor, map[string]any{"name": "Acme"})
	require.Equal(t, http.StatusCreated, code)
	assert.Len(t, body["signing_key"], 64)
	assert.Len(t, body["public_key"], 64)

	code, got := s.do(http.MethodGet, "/v1/distributors/"+body["id"].(string), patient, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, got, "signing_key")
	assert.Equal(t, body["public_key"], got["public_key"])
}

func TestDistributors_RegisterWithMalformedKey(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(http.MethodPost, "/v1/distributors", admin, map[string]any{"name": "Acme", "public_key": "abcd"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_PUBLIC_KEY", body["code"])
}

func TestDistributors_UpdateIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	_, body := s.do(http.MethodPost, "/v1/distributors", distributor, map[string]any{"name": "Acme"})
	path := "/v1/distributors/" + body["id"].(string)

	code, _ := s.do(http.MethodPatch, path, distributor, map[string]any{"is_verified_regulator": true})
	assert.Equal(t, http.StatusForbidden, code)

	code, got := s.do(http.MethodPatch, path, admin, map[string]any{"is_verified_regulator": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, got["is_verified_regulator"])
}

func TestLots_VerifyAuthentic(t *testing.T) {
	s := newTestServer(t)
	lotID, distID, _ := s.seed("BATCH-001")

	// 認証なしでも検証できる
	code, body := s.do(http.MethodPost, "/v1/lots/"+lotID+"/verify", anonymous, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Verified", body["status"])
	assert.Equal(t, true, body["is_authentic"])
	assert.Equal(t, 100.0, body["trust_score"])
	assert.Equal(t, "SAFE", body["safety_status"])
	assert.Equal(t, 0.0, body["unresolved_flags"])

	details := body["lot_details"].(map[string]any)
	assert.Equal(t, "BATCH-001", details["batch_number"])
	assert.Equal(t, distID, details["distributor"].(map[string]any)["id"])
}

func TestLots_VerifyTamperedIsForgedNotError(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-002")

	require.NoError(t, s.db.Model(&repository.LotManifestModel{}).
		Where("id = ?", lotID).Update("batch_number", "BATCH-002-FAKE").Error)

	code, body := s.do(http.MethodPost, "/v1/lots/"+lotID+"/verify", anonymous, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Forged/Tampered", body["status"])
	assert.Equal(t, false, body["is_authentic"])
}

func TestLots_VerifyMissingLot(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(http.MethodPost, "/v1/lots/missing/verify", anonymous, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "LOT_NOT_FOUND", body["code"])
}

func TestLots_CreateRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	_, distID, key := s.seed("BATCH-003")
	code, meds := s.do(http.MethodGet, "/v1/medicines?distributor_id="+distID, distributor, nil)
	require.Equal(t, http.StatusOK, code)
	medID := meds["medicines"].([]any)[0].(map[string]any)["id"]

	code, body := s.do(http.MethodPost, "/v1/lots", distributor, map[string]any{
		"batch_number":      "BATCH-004",
		"expiry_date":       "2030-01-01",
		"medicine_id":       medID,
		"distributor_id":    distID,
		"digital_signature": sign(t, key, "BATCH-OTHER", "2030-01-01", distID),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "SIGNATURE_INVALID", body["code"])

	code, body = s.do(http.MethodPost, "/v1/lots", distributor, map[string]any{
		"batch_number":      "BATCH-004",
		"expiry_date":       "2030-01-01",
		"medicine_id":       "missing",
		"distributor_id":    distID,
		"digital_signature": sign(t, key, "BATCH-004", "2030-01-01", distID),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "UNKNOWN_REFERENCE", body["code"])
}

func TestLots_CreateForbiddenForPatient(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(http.MethodPost, "/v1/lots", patient, map[string]any{"batch_number": "X"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	code, _ = s.do(http.MethodGet, "/v1/lots", anonymous, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLots_UpdateWithoutSignature(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-005")

	code, body := s.do(http.MethodPatch, "/v1/lots/"+lotID, distributor, map[string]any{"expiry_date": "2031-01-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "SIGNATURE_REQUIRED", body["code"])

	code, _ = s.do(http.MethodPatch, "/v1/lots/"+lotID, distributor, map[string]any{"trust_score": 5})
	assert.Equal(t, http.StatusBadRequest, code, "trust_score is not writable")
}

func TestFlags_LifecycleUpdatesScore(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-006")
	verifyScore := func() float64 {
		_, body := s.do(http.MethodPost, "/v1/lots/"+lotID+"/verify", anonymous, nil)
		return body["trust_score"].(float64)
	}

	code, critical := s.do(http.MethodPost, "/v1/flags", pharmacist, map[string]any{
		"reporter_type": "Pharmacist", "issue_type": "Counterfeit", "severity": "CRITICAL",
		"description": "hologram missing", "lot_id": lotID,
	})
	require.Equal(t, http.StatusCreated, code, critical)
	assert.Equal(t, "pharm-1", critical["user_id"])
	assert.Equal(t, 85.0, verifyScore())

	code, high := s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Discoloration", "severity": "HIGH",
		"description": "tablets are yellow", "lot_id": lotID,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 75.0, verifyScore())

	// 報告者本人は解決できる
	code, _ = s.do(http.MethodPost, "/v1/flags/"+high["id"].(string)+"/resolve", patient, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 85.0, verifyScore())

	// 他人の報告は解決できない
	other := domain.Principal{UserID: "patient-2", Role: domain.RolePatient}
	code, _ = s.do(http.MethodPost, "/v1/flags/"+critical["id"].(string)+"/resolve", other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodDelete, "/v1/flags/"+critical["id"].(string), admin, nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 100.0, verifyScore())

	_, list := s.do(http.MethodGet, "/v1/flags?my_flags=true", patient, nil)
	assert.Len(t, list["flags"], 1)
}

func TestFlags_InvalidSeverityRejected(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-007")

	code, body := s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Smell", "severity": "SEVERE",
		"description": "smells odd", "lot_id": lotID,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_SEVERITY", body["code"])
}

func TestFlags_LotReferenceImmutable(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-008")
	otherLot, _, _ := s.seed("BATCH-009")

	_, flag := s.do(http.MethodPost, "/v1/flags", pharmacist, map[string]any{
		"reporter_type": "Pharmacist", "issue_type": "Seal", "severity": "LOW",
		"description": "broken seal", "lot_id": lotID,
	})
	code, body := s.do(http.MethodPatch, "/v1/flags/"+flag["id"].(string), pharmacist, map[string]any{"lot_id": otherLot})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "FLAG_LOT_IMMUTABLE", body["code"])
}

func TestLots_BulkVerifyAndRecalculate(t *testing.T) {
	s := newTestServer(t)
	good, _, _ := s.seed("BATCH-010")
	bad, _, _ := s.seed("BATCH-011")
	require.NoError(t, s.db.Model(&repository.LotManifestModel{}).
		Where("id = ?", bad).Update("digital_signature", "00").Error)

	code, _ := s.do(http.MethodPost, "/v1/lots/verify", pharmacist, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(http.MethodPost, "/v1/lots/verify", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, 1.0, body["verified"])

	code, body = s.do(http.MethodPost, "/v1/lots/verify", admin, map[string]any{"lot_ids": []string{good}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["total"])

	// スコアが壊れていても再計算で戻る
	require.NoError(t, s.db.Model(&repository.LotManifestModel{}).
		Where("id = ?", good).Update("trust_score", 12).Error)
	code, body = s.do(http.MethodPost, "/v1/lots/"+good+"/recalculate", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100.0, body["trust_score"])
	assert.Equal(t, "SAFE", body["safety_status"])
}

func TestLots_DeleteIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-012")

	code, _ := s.do(http.MethodDelete, "/v1/lots/"+lotID, distributor, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodDelete, "/v1/lots/"+lotID, admin, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = s.do(http.MethodGet, "/v1/lots/"+lotID, admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLots_ListFilters(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-013")

	code, body := s.do(http.MethodGet, "/v1/lots?expired=false&min_trust_score=80", patient, nil)
	require.Equal(t, http.StatusOK, code)
	lots := body["lots"].([]any)
	require.Len(t, lots, 1)
	assert.Equal(t, lotID, lots[0].(map[string]any)["id"])

	code, _ = s.do(http.MethodGet, "/v1/lots?min_trust_score=high", patient, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// ハンドラを直接呼ぶ場合はルートコンテキストとPrincipalを自分で設定する。
func TestLotHandler_VerifyDirect(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-014")

	req := httptest.NewRequest(http.MethodPost, "/v1/lots/"+lotID+"/verify", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", lotID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(middleware.WithPrincipal(ctx, anonymous))

	rec := httptest.NewRecorder()
	s.lots.Verify(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trust_score":100.00`)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", fmt.Errorf("recalculating: %w", domain.ErrConcurrencyConflict), http.StatusServiceUnavailable, "OPERATION_FAILED"},
		{"duplicate batch", domain.ErrBatchNumberAlreadyExists, http.StatusConflict, "BATCH_NUMBER_ALREADY_EXISTS"},
		{"missing flag", domain.ErrFlagNotFound, http.StatusNotFound, "FLAG_NOT_FOUND"},
		{"bad expiry", domain.ErrInvalidExpiryDate, http.StatusBadRequest, "INVALID_EXPIRY_DATE"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

// provision は p を所有者とする販売業者を鍵生成付きで登録する。
func (s *testServer) provision(p domain.Principal, name string) (distID string, key ed25519.PrivateKey) {
	s.t.Helper()
	code, dist := s.do(http.MethodPost, "/v1/distributors", p, map[string]any{"name": name})
	require.Equal(s.t, http.StatusCreated, code, dist)
	seed, err := hex.DecodeString(dist["signing_key"].(string))
	require.NoError(s.t, err)
	return dist["id"].(string), ed25519.NewKeyFromSeed(seed)
}

func TestDistributors_RegulatorFlagRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/v1/distributors", rival, map[string]any{
		"name": "Self Certified Ltd", "is_verified_regulator": true,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	_, list := s.do(http.MethodGet, "/v1/distributors?search=self+certified", admin, nil)
	assert.Empty(t, list["distributors"], "nothing is registered")

	code, body = s.do(http.MethodPost, "/v1/distributors", admin, map[string]any{
		"name": "Regulated Ltd", "is_verified_regulator": true,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["is_verified_regulator"])

	code, body = s.do(http.MethodPost, "/v1/distributors", rival, map[string]any{"name": "Plain Ltd"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, false, body["is_verified_regulator"])
}

func TestLots_CannotReassignToAnotherDistributor(t *testing.T) {
	s := newTestServer(t)
	lotID, victimDist, _ := s.seed("BATCH-020")
	rivalDist, rivalKey := s.provision(rival, "Rival Pharma")

	// 他人のロットを自分の販売業者に付け替えて署名し直しても拒否される
	code, body := s.do(http.MethodPatch, "/v1/lots/"+lotID, rival, map[string]any{
		"distributor_id":    rivalDist,
		"digital_signature": sign(t, rivalKey, "BATCH-020", "2030-01-01", rivalDist),
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	code, _ = s.do(http.MethodPatch, "/v1/lots/"+lotID, rival, map[string]any{"medicine_id": "anything"})
	assert.Equal(t, http.StatusForbidden, code)

	// 所有者でも、所有していない販売業者へは移せない
	code, _ = s.do(http.MethodPatch, "/v1/lots/"+lotID, distributor, map[string]any{
		"distributor_id":    rivalDist,
		"digital_signature": sign(t, rivalKey, "BATCH-020", "2030-01-01", rivalDist),
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(http.MethodPost, "/v1/lots/"+lotID+"/verify", anonymous, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Verified", body["status"])
	assert.Equal(t, victimDist, body["lot_details"].(map[string]any)["distributor"].(map[string]any)["id"])

	// 管理者は付け替えられる
	code, body = s.do(http.MethodPatch, "/v1/lots/"+lotID, admin, map[string]any{
		"distributor_id":    rivalDist,
		"digital_signature": sign(t, rivalKey, "BATCH-020", "2030-01-01", rivalDist),
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, rivalDist, body["distributor_id"])
}

func TestLots_CreateUnderAnotherDistributorForbidden(t *testing.T) {
	s := newTestServer(t)
	_, victimDist, victimKey := s.seed("BATCH-021")
	_, meds := s.do(http.MethodGet, "/v1/medicines?distributor_id="+victimDist, admin, nil)
	medID := meds["medicines"].([]any)[0].(map[string]any)["id"]
	s.provision(rival, "Rival Pharma")

	lot := map[string]any{
		"batch_number":      "BATCH-022",
		"expiry_date":       "2030-01-01",
		"medicine_id":       medID,
		"distributor_id":    victimDist,
		"digital_signature": sign(t, victimKey, "BATCH-022", "2030-01-01", victimDist),
	}
	code, _ := s.do(http.MethodPost, "/v1/lots", rival, lot)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/v1/medicines", rival, map[string]any{"name": "Knockoff", "distributor_id": victimDist})
	assert.Equal(t, http.StatusForbidden, code)

	// 存在しない販売業者は所有者なしとして扱う
	code, _ = s.do(http.MethodPost, "/v1/lots", rival, map[string]any{"batch_number": "X", "distributor_id": "missing"})
	assert.Equal(t, http.StatusForbidden, code)
	code, body := s.do(http.MethodPost, "/v1/lots", admin, map[string]any{
		"batch_number": "X", "expiry_date": "2030-01-01", "medicine_id": medID,
		"distributor_id": "missing", "digital_signature": "00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "UNKNOWN_REFERENCE", body["code"])

	code, _ = s.do(http.MethodPost, "/v1/lots", admin, lot)
	assert.Equal(t, http.StatusCreated, code)
}

func TestLots_AnonymousWriteIsUnauthenticatedBeforeBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/lots", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code, _ := s.do(http.MethodPatch, "/v1/lots/any", anonymous, map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestFlags_ResolveCriticalLeavesHighPenalty(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-023")

	_, critical := s.do(http.MethodPost, "/v1/flags", pharmacist, map[string]any{
		"reporter_type": "Pharmacist", "issue_type": "Counterfeit", "severity": "CRITICAL",
		"description": "hologram missing", "lot_id": lotID,
	})
	_, _ = s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Discoloration", "severity": "HIGH",
		"description": "tablets are yellow", "lot_id": lotID,
	})

	code, _ := s.do(http.MethodPost, "/v1/flags/"+critical["id"].(string)+"/resolve", pharmacist, nil)
	require.Equal(t, http.StatusOK, code)

	_, body := s.do(http.MethodPost, "/v1/lots/"+lotID+"/verify", anonymous, nil)
	assert.Equal(t, 90.0, body["trust_score"])
	assert.Equal(t, "SAFE", body["safety_status"])
	assert.Equal(t, 1.0, body["unresolved_flags"])
}

func TestFlags_LowerCaseSeverityRejected(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-024")

	code, body := s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Smell", "severity": "critical",
		"description": "smells odd", "lot_id": lotID,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_SEVERITY", body["code"])
}

func TestFlags_CreateForUnknownLotLeavesNoFlag(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Smell", "severity": "LOW",
		"description": "smells odd", "lot_id": "missing",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "UNKNOWN_REFERENCE", body["code"])

	var count int64
	require.NoError(t, s.db.Model(&repository.CrowdFlagModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

// フラグ保存後、再計算の前にロットが消えた場合は参照エラーではなく 503 を返す。
func TestFlags_RecalculationFailureAfterCommit(t *testing.T) {
	s := newTestServerWith(t, func(db *gorm.DB, next usecase.ScoreRecalculator) usecase.ScoreRecalculator {
		return recalcFunc(func(ctx context.Context, lotID string) (decimal.Decimal, error) {
			if err := db.Where("id = ?", lotID).Delete(&repository.LotManifestModel{}).Error; err != nil {
				return decimal.Zero, err
			}
			return next.Recalculate(ctx, lotID)
		})
	})
	lotID, _, _ := s.seed("BATCH-025")

	code, body := s.do(http.MethodPost, "/v1/flags", patient, map[string]any{
		"reporter_type": "Patient", "issue_type": "Smell", "severity": "LOW",
		"description": "smells odd", "lot_id": lotID,
	})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "OPERATION_FAILED", body["code"])

	var count int64
	require.NoError(t, s.db.Model(&repository.CrowdFlagModel{}).Where("lot_id = ?", lotID).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the flag write was committed")
}

func TestLists_SearchAndOrdering(t *testing.T) {
	s := newTestServer(t)
	first, _, _ := s.seed("BATCH-030")
	rivalDist, rivalKey := s.provision(rival, "Northwind Supply")
	code, med := s.do(http.MethodPost, "/v1/medicines", rival, map[string]any{
		"name": "Paracetamol", "category": "Analgesic", "distributor_id": rivalDist,
	})
	require.Equal(t, http.StatusCreated, code)
	code, second := s.do(http.MethodPost, "/v1/lots", rival, map[string]any{
		"batch_number":      "PCM-031",
		"expiry_date":       "2031-01-01",
		"medicine_id":       med["id"],
		"distributor_id":    rivalDist,
		"digital_signature": sign(t, rivalKey, "PCM-031", "2031-01-01", rivalDist),
	})
	require.Equal(t, http.StatusCreated, code, second)

	ids := func(body map[string]any, key string) []string {
		var out []string
		for _, v := range body[key].([]any) {
			out = append(out, v.(map[string]any)["id"].(string))
		}
		return out
	}

	_, body := s.do(http.MethodGet, "/v1/lots?search=northwind", patient, nil)
	assert.Equal(t, []string{second["id"].(string)}, ids(body, "lots"))
	_, body = s.do(http.MethodGet, "/v1/lots?search=amoxi", patient, nil)
	assert.Equal(t, []string{first}, ids(body, "lots"))

	_, body = s.do(http.MethodGet, "/v1/lots", patient, nil)
	assert.Equal(t, []string{second["id"].(string), first}, ids(body, "lots"), "newest expiry first")
	_, body = s.do(http.MethodGet, "/v1/lots?ordering=expiry_date", patient, nil)
	assert.Equal(t, []string{first, second["id"].(string)}, ids(body, "lots"))

	code, body = s.do(http.MethodGet, "/v1/lots?ordering=-digital_signature", patient, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_QUERY", body["code"])

	_, body = s.do(http.MethodGet, "/v1/medicines?search=analg", patient, nil)
	assert.Equal(t, []string{med["id"].(string)}, ids(body, "medicines"))
	_, body = s.do(http.MethodGet, "/v1/medicines?ordering=-name", patient, nil)
	assert.Len(t, ids(body, "medicines"), 2)
	assert.Equal(t, med["id"], body["medicines"].([]any)[0].(map[string]any)["id"])

	_, body = s.do(http.MethodGet, "/v1/distributors?search=north", patient, nil)
	assert.Equal(t, []string{rivalDist}, ids(body, "distributors"))
	_, body = s.do(http.MethodGet, "/v1/distributors?verified=true", patient, nil)
	assert.Empty(t, body["distributors"])
	code, _ = s.do(http.MethodGet, "/v1/distributors?verified=maybe", patient, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodGet, "/v1/flags?ordering=severity", patient, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReceipts_RecordAndList(t *testing.T) {
	s := newTestServer(t)
	lotID, _, _ := s.seed("BATCH-040")
	receipt := map[string]any{"lot_id": lotID, "location_coord": map[string]any{"lat": 35.6812, "lng": 139.7671}}

	code, _ := s.do(http.MethodPost, "/v1/receipts", patient, receipt)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodPost, "/v1/receipts", anonymous, receipt)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, created := s.do(http.MethodPost, "/v1/receipts", pharmacist, receipt)
	require.Equal(t, http.StatusCreated, code, created)
	assert.Equal(t, "pharm-1", created["user_id"])
	assert.Equal(t, "BATCH-040", created["lot_batch_number"])
	assert.Equal(t, 35.6812, created["location_coord"].(map[string]any)["lat"])

	code, got := s.do(http.MethodGet, "/v1/receipts/"+created["id"].(string), patient, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, lotID, got["lot_id"])

	_, list := s.do(http.MethodGet, "/v1/receipts?lot_id="+lotID, patient, nil)
	assert.Len(t, list["receipts"], 1)
	_, list = s.do(http.MethodGet, "/v1/receipts?user_id=someone-else", patient, nil)
	assert.Empty(t, list["receipts"])

	code, body := s.do(http.MethodPost, "/v1/receipts", pharmacist, map[string]any{
		"lot_id": "missing", "location_coord": map[string]any{"lat": 0, "lng": 0},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "UNKNOWN_REFERENCE", body["code"])

	code, body = s.do(http.MethodPost, "/v1/receipts", pharmacist, map[string]any{"lot_id": lotID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	code, _ = s.do(http.MethodGet, "/v1/receipts?date_from=yesterday", patient, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodGet, "/v1/receipts/missing", patient, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
