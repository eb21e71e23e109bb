package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rxverify-service/internal/middleware"
	"rxverify-service/pkg/httputil"
)

// Handlers はルーターに登録するハンドラ一式。
type Handlers struct {
	Distributors *DistributorHandler
	Medicines    *MedicineHandler
	Lots         *LotHandler
	Flags        *FlagHandler
	Receipts     *ReceiptHandler
}

// NewRouter はルーターを生成する。
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Principal)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Route("/distributors", func(r chi.Router) {
			r.Post("/", h.Distributors.Create)
			r.Get("/", h.Distributors.List)
			r.Get("/{id}", h.Distributors.Get)
			r.Patch("/{id}", h.Distributors.Update)
		})

		r.Route("/medicines", func(r chi.Router) {
			r.Post("/", h.Medicines.Create)
			r.Get("/", h.Medicines.List)
			r.Get("/{id}", h.Medicines.Get)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Post("/", h.Lots.Create)
			r.Get("/", h.Lots.List)
			r.Post("/verify", h.Lots.BulkVerify)
			r.Get("/{id}", h.Lots.Get)
			r.Patch("/{id}", h.Lots.Update)
			r.Delete("/{id}", h.Lots.Delete)
			r.Post("/{id}/verify", h.Lots.Verify)
			r.Post("/{id}/recalculate", h.Lots.Recalculate)
		})

		r.Route("/flags", func(r chi.Router) {
			r.Post("/", h.Flags.Create)
			r.Get("/", h.Flags.List)
			r.Get("/{id}", h.Flags.Get)
			r.Patch("/{id}", h.Flags.Update)
			r.Delete("/{id}", h.Flags.Delete)
			r.Post("/{id}/resolve", h.Flags.Resolve)
			r.Post("/{id}/unresolve", h.Flags.Unresolve)
		})

		r.Route("/receipts", func(r chi.Router) {
			r.Post("/", h.Receipts.Create)
			r.Get("/", h.Receipts.List)
			r.Get("/{id}", h.Receipts.Get)
		})
	})

	return otelhttp.NewHandler(r, "rxverify-service")
}

// requestLogger はリクエストごとに1行のアクセスログを出力する。
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
