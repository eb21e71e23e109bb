package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"rxverify-service/internal/domain"
)

// ScoreRecalculator はロットの信頼スコアを再計算する。
type ScoreRecalculator interface {
	Recalculate(ctx context.Context, lotID string) (decimal.Decimal, error)
}

// FlagHooks はフラグの作成・更新・削除が確定した後に、対象ロットのスコアを同期的に再計算する。
type FlagHooks struct {
	scores ScoreRecalculator
}

// NewFlagHooks は新しいFlagHooksを生成する。
func NewFlagHooks(scores ScoreRecalculator) *FlagHooks {
	return &FlagHooks{scores: scores}
}

// AfterCreate はフラグ作成後に呼ばれる。
func (h *FlagHooks) AfterCreate(ctx context.Context, flag *domain.CrowdFlag) error {
	return h.recalculate(ctx, "after_create", flag.LotID)
}

// AfterUpdate はフラグ更新（解決状態の切り替えを含む）後に呼ばれる。
func (h *FlagHooks) AfterUpdate(ctx context.Context, flag *domain.CrowdFlag) error {
	return h.recalculate(ctx, "after_update", flag.LotID)
}

// AfterDelete はフラグ削除後に呼ばれる。lotID は削除前に取得したものを渡す。
func (h *FlagHooks) AfterDelete(ctx context.Context, lotID string) error {
	return h.recalculate(ctx, "after_delete", lotID)
}

// recalculate はロック競合のときだけ一度だけ再試行する。
// 失敗した場合は domain.ErrScoreSyncFailed と元のエラーの両方をラップして返す。
func (h *FlagHooks) recalculate(ctx context.Context, hook, lotID string) error {
	_, err := h.scores.Recalculate(ctx, lotID)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		slog.WarnContext(ctx, "trust score recalculation conflicted, retrying once",
			"operation", "flag_hook",
			"hook", hook,
			"lot_id", lotID,
		)
		_, err = h.scores.Recalculate(ctx, lotID)
	}
	if err != nil {
		slog.ErrorContext(ctx, "trust score recalculation failed",
			"operation", "flag_hook",
			"hook", hook,
			"lot_id", lotID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrScoreSyncFailed, err)
	}
	return nil
}
