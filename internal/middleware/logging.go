// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
	ResultDenied  = "DENIED"
)

// WriteAuditLog は監査ログを出力する。呼び出し元はリクエストのPrincipalから補う。
func WriteAuditLog(ctx context.Context, operation string, resourceID string, result string) {
	p := PrincipalFromContext(ctx)
	slog.InfoContext(ctx, "rx operation completed",
		"operation", operation,
		"resource_id", resourceID,
		"user_id", p.UserID,
		"role", string(p.Role),
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
