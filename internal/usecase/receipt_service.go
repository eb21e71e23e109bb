package usecase

import (
	"context"
	"fmt"

	"rxverify-service/internal/domain"
)

// ReceiptRepository は受領記録のデータアクセスのインターフェース。
type ReceiptRepository interface {
	// Create は対象ロットが存在する場合だけ保存する。存在しなければ domain.ErrLotNotFound。
	Create(ctx context.Context, e *domain.ReceiptEvent) error
	FindByID(ctx context.Context, id string) (*domain.ReceiptEvent, error)
	FindAll(ctx context.Context, filter domain.ReceiptFilter) ([]*domain.ReceiptEvent, error)
}

// CreateReceiptInput は受領記録の入力。UserID は呼び出し元から設定する。
type CreateReceiptInput struct {
	LotID    string
	Location *domain.GeoPoint
	UserID   string
}

// ReceiptView は受領記録に対象ロットのバッチ番号を添えたもの。
// ロットが削除済みの場合 LotBatchNumber は空になる。
type ReceiptView struct {
	*domain.ReceiptEvent
	LotBatchNumber string
}

// ReceiptService は薬剤師によるロット受領記録のビジネスロジックを提供する。記録は作成後に変更しない。
type ReceiptService struct {
	receipts ReceiptRepository
	lots     LotRepository
}

// NewReceiptService は新しいReceiptServiceを生成する。
func NewReceiptService(receipts ReceiptRepository, lots LotRepository) *ReceiptService {
	return &ReceiptService{receipts: receipts, lots: lots}
}

// Create は受領記録を保存する。
func (s *ReceiptService) Create(ctx context.Context, in CreateReceiptInput) (*ReceiptView, error) {
	switch {
	case in.LotID == "":
		return nil, fmt.Errorf("%w: lot_id is required", domain.ErrInvalidInput)
	case in.Location == nil:
		return nil, fmt.Errorf("%w: location_coord is required", domain.ErrInvalidInput)
	case in.UserID == "":
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if err := in.Location.Validate(); err != nil {
		return nil, err
	}

	e := &domain.ReceiptEvent{
		Location: *in.Location,
		UserID:   in.UserID,
		LotID:    in.LotID,
	}
	if err := s.receipts.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("saving receipt event: %w", err)
	}

	views, err := s.withBatchNumbers(ctx, []*domain.ReceiptEvent{e})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// Get は受領記録を取得する。
func (s *ReceiptService) Get(ctx context.Context, id string) (*ReceiptView, error) {
	e, err := s.receipts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding receipt event: %w", err)
	}
	if e == nil {
		return nil, domain.ErrReceiptNotFound
	}

	views, err := s.withBatchNumbers(ctx, []*domain.ReceiptEvent{e})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// List は受領記録の一覧を取得する。
func (s *ReceiptService) List(ctx context.Context, filter domain.ReceiptFilter) ([]*ReceiptView, error) {
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, fmt.Errorf("%w: date_to is before date_from", domain.ErrInvalidInput)
	}
	events, err := s.receipts.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding receipt events: %w", err)
	}
	return s.withBatchNumbers(ctx, events)
}

// withBatchNumbers はロットごとに一度だけバッチ番号を引く。
func (s *ReceiptService) withBatchNumbers(ctx context.Context, events []*domain.ReceiptEvent) ([]*ReceiptView, error) {
	batches := make(map[string]string)
	out := make([]*ReceiptView, len(events))
	for i, e := range events {
		batch, ok := batches[e.LotID]
		if !ok {
			lot, err := s.lots.FindByID(ctx, e.LotID)
			if err != nil {
				return nil, fmt.Errorf("finding lot: %w", err)
			}
			if lot != nil {
				batch = lot.BatchNumber
			}
			batches[e.LotID] = batch
		}
		out[i] = &ReceiptView{ReceiptEvent: e, LotBatchNumber: batch}
	}
	return out, nil
}
