package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"rxverify-service/internal/domain"
	"rxverify-service/internal/signing"
)

// VerificationService はロットの真正性と安全性をまとめて返す読み取り専用の窓口。
// スコアは保存済みの値を返し、ここでは再計算しない。
type VerificationService struct {
	lots         LotRepository
	distributors DistributorRepository
	flags        FlagRepository
	concurrency  int
}

// NewVerificationService は新しいVerificationServiceを生成する。
// concurrency は一括検証の同時実行数。
func NewVerificationService(lots LotRepository, distributors DistributorRepository, flags FlagRepository, concurrency int) *VerificationService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &VerificationService{
		lots:         lots,
		distributors: distributors,
		flags:        flags,
		concurrency:  concurrency,
	}
}

// VerifyLot は1ロットの署名検証結果・信頼スコア・安全区分・未解決フラグ数を返す。
// 署名の不一致は IsAuthentic=false で表し、ロットや販売業者が存在しない場合はエラーを返す。
func (s *VerificationService) VerifyLot(ctx context.Context, lotID string) (*domain.VerificationResult, error) {
	lot, err := s.lots.FindByID(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("finding lot: %w", err)
	}
	if lot == nil {
		return nil, domain.ErrLotNotFound
	}
	return s.verify(ctx, lot)
}

func (s *VerificationService) verify(ctx context.Context, lot *domain.LotManifest) (*domain.VerificationResult, error) {
	distributor, err := s.distributors.FindByID(ctx, lot.DistributorID)
	if err != nil {
		return nil, fmt.Errorf("finding distributor: %w", err)
	}
	if distributor == nil {
		return nil, domain.ErrDistributorNotFound
	}

	unresolved, err := s.flags.CountUnresolvedByLotID(ctx, lot.ID)
	if err != nil {
		return nil, fmt.Errorf("counting unresolved flags: %w", err)
	}

	return &domain.VerificationResult{
		Lot:             lot,
		Distributor:     distributor,
		IsAuthentic:     signing.Verify(lot, distributor.PublicKey),
		TrustScore:      lot.TrustScore,
		SafetyStatus:    domain.SafetyStatusForScore(lot.TrustScore),
		UnresolvedFlags: unresolved,
	}, nil
}

// VerifyLots は複数ロットを並行して検証する。lotIDs が空なら全ロットが対象。
// 個々のロットの失敗は結果の Err に入れ、他のロットの検証は続ける。
func (s *VerificationService) VerifyLots(ctx context.Context, lotIDs []string) ([]domain.BulkVerificationItem, error) {
	if len(lotIDs) == 0 {
		lots, err := s.lots.FindAll(ctx, domain.LotFilter{})
		if err != nil {
			return nil, fmt.Errorf("finding lots: %w", err)
		}
		lotIDs = make([]string, len(lots))
		for i, lot := range lots {
			lotIDs[i] = lot.ID
		}
	}

	items := make([]domain.BulkVerificationItem, len(lotIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range lotIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := s.VerifyLot(gctx, id)
			items[i] = domain.BulkVerificationItem{LotID: id, Result: result, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountVerified は一括検証結果のうち署名が有効な件数を返す。
func CountVerified(items []domain.BulkVerificationItem) int {
	n := 0
	for _, item := range items {
		if item.Err == nil && item.Result != nil && item.Result.IsAuthentic {
			n++
		}
	}
	return n
}
