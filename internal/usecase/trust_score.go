package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"rxverify-service/internal/domain"
)

// ComputeTrustScore は未解決フラグの減点合計を満点から引き、0.00 で下限を取る。
// 解決済みフラグは無視する。未知の深刻度は MEDIUM として扱い、データ不整合として警告を出す。
func ComputeTrustScore(ctx context.Context, flags []*domain.CrowdFlag) decimal.Decimal {
	mediumPenalty, _ := domain.SeverityMedium.Penalty()

	total := decimal.Zero
	for _, f := range flags {
		if f == nil || f.IsResolved {
			continue
		}
		penalty, ok := f.Severity.Penalty()
		if !ok {
			slog.WarnContext(ctx, "unknown flag severity treated as MEDIUM",
				"operation", "compute_trust_score",
				"flag_id", f.ID,
				"lot_id", f.LotID,
				"severity", string(f.Severity),
			)
			penalty = mediumPenalty
		}
		total = total.Add(penalty)
	}

	score := domain.MaxTrustScore.Sub(total)
	if score.LessThan(domain.MinTrustScore) {
		score = domain.MinTrustScore
	}
	return score.Round(2)
}

// LotLocker はロット単位の排他ロックを提供する。
// 取得がタイムアウトした場合は domain.ErrConcurrencyConflict を返す。
type LotLocker interface {
	Lock(ctx context.Context, lotID string) (unlock func(), err error)
}

// TrustScoreRepository はロット行をロックした1トランザクション内でスコアを再計算する。
type TrustScoreRepository interface {
	RecalculateTrustScore(
		ctx context.Context,
		lotID string,
		score func(ctx context.Context, unresolved []*domain.CrowdFlag) decimal.Decimal,
	) (*domain.LotManifest, error)
}

// TrustScoreEngine は trust_score の唯一の書き込み手段。
type TrustScoreEngine struct {
	repo   TrustScoreRepository
	locker LotLocker
}

// NewTrustScoreEngine は新しいTrustScoreEngineを生成する。
func NewTrustScoreEngine(repo TrustScoreRepository, locker LotLocker) *TrustScoreEngine {
	return &TrustScoreEngine{repo: repo, locker: locker}
}

// Recalculate はロットの未解決フラグ全体からスコアを計算し直して保存する。
// 同じ状態に対して何度呼んでも結果は変わらない。
func (e *TrustScoreEngine) Recalculate(ctx context.Context, lotID string) (decimal.Decimal, error) {
	unlock, err := e.locker.Lock(ctx, lotID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("acquiring lot lock: %w", err)
	}
	defer unlock()

	lot, err := e.repo.RecalculateTrustScore(ctx, lotID, ComputeTrustScore)
	if err != nil {
		return decimal.Zero, fmt.Errorf("recalculating trust score: %w", err)
	}
	if lot == nil {
		return decimal.Zero, domain.ErrLotNotFound
	}
	return lot.TrustScore, nil
}
