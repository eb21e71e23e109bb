package middleware

import (
	"context"
	"net/http"
	"strings"

	"rxverify-service/internal/domain"
)

// ゲートウェイが認証後に付与するヘッダー。
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type principalKey struct{}

var knownRoles = map[string]domain.Role{
	"admin":       domain.RoleAdmin,
	"pharmacist":  domain.RolePharmacist,
	"patient":     domain.RolePatient,
	"distributor": domain.RoleDistributor,
}

// Principal はヘッダーから呼び出し元を取り出してコンテキストに格納する。
// 未知のロールは空として扱い、権限を与えない。
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.Principal{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		}
		if p.UserID != "" {
			p.Role = knownRoles[strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))]
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// WithPrincipal はPrincipalを格納したコンテキストを返す。
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext はコンテキストのPrincipalを返す。未設定なら匿名。
func PrincipalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}
