// Package authz は埋め込みRegoポリシーによる認可判定を提供する。
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"rxverify-service/internal/domain"
)

//go:embed policy/authz.rego
var policyModule string

const allowQuery = "data.rxverify.authz.allow"

// Action は認可対象の操作。
type Action string

const (
	ActionDistributorRead         Action = "distributor:read"
	ActionDistributorCreate       Action = "distributor:create"
	ActionDistributorUpdate       Action = "distributor:update"
	ActionDistributorSetRegulator Action = "distributor:set_regulator"
	ActionMedicineRead            Action = "medicine:read"
	ActionMedicineCreate          Action = "medicine:create"
	ActionLotRead                 Action = "lot:read"
	ActionLotCreate               Action = "lot:create"
	ActionLotUpdate               Action = "lot:update"
	ActionLotDelete               Action = "lot:delete"
	ActionLotVerify               Action = "lot:verify"
	ActionLotBulkVerify           Action = "lot:bulk_verify"
	ActionLotRecalculate          Action = "lot:recalculate"
	ActionFlagRead                Action = "flag:read"
	ActionFlagCreate              Action = "flag:create"
	ActionFlagUpdate              Action = "flag:update"
	ActionFlagResolve             Action = "flag:resolve"
	ActionFlagUnresolve           Action = "flag:unresolve"
	ActionFlagDelete              Action = "flag:delete"
	ActionReceiptRead             Action = "receipt:read"
	ActionReceiptCreate           Action = "receipt:create"
)

// Resource は判定に使う対象リソースの属性。
// OwnerID はフラグなら報告者、医薬品・ロットなら販売業者を登録したユーザー。
type Resource struct {
	OwnerID string
}

// Engine は準備済みのRegoクエリを保持する。
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine はポリシーをコンパイルしてEngineを生成する。
func NewEngine(ctx context.Context) (*Engine, error) {
	prepared, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("authz.rego", policyModule),
		rego.StrictBuiltinErrors(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing authorization policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

// Authorize は操作が許可されていれば nil を返す。
// 拒否された場合、呼び出し元が匿名なら domain.ErrUnauthenticated、そうでなければ domain.ErrForbidden。
func (e *Engine) Authorize(ctx context.Context, p domain.Principal, action Action, res Resource) error {
	if e == nil {
		return errors.New("authorization engine is nil")
	}
	input := map[string]any{
		"principal": map[string]any{
			"user_id": p.UserID,
			"role":    string(p.Role),
		},
		"action": string(action),
		"resource": map[string]any{
			"owner_id": res.OwnerID,
		},
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("evaluating authorization policy: %w", err)
	}
	if len(results) == 1 && len(results[0].Expressions) == 1 {
		if allowed, ok := results[0].Expressions[0].Value.(bool); ok && allowed {
			return nil
		}
	}

	if p.IsAnonymous() {
		return domain.ErrUnauthenticated
	}
	return domain.ErrForbidden
}
