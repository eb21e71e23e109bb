package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rxverify-service/internal/domain"
)

// ReceiptEventModel はgorm用のモデル定義。位置はJSONで保存する。
type ReceiptEventModel struct {
	ID        string          `gorm:"type:varchar(36);primaryKey"`
	Location  domain.GeoPoint `gorm:"column:location_coord;type:text;not null;serializer:json"`
	UserID    string          `gorm:"type:varchar(36);not null;index:idx_receipt_user"`
	LotID     string          `gorm:"type:varchar(36);not null;index:idx_receipt_lot"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime;index:idx_receipt_created_at"`
}

// TableName はテーブル名を返す。
func (ReceiptEventModel) TableName() string {
	return "receipt_events"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ReceiptEventModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *ReceiptEventModel) toDomain() *domain.ReceiptEvent {
	return &domain.ReceiptEvent{
		ID:        m.ID,
		Location:  m.Location,
		UserID:    m.UserID,
		LotID:     m.LotID,
		CreatedAt: m.CreatedAt,
	}
}

// ReceiptRepository は受領記録のデータアクセスを提供する。更新・削除は持たない。
type ReceiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository は新しいReceiptRepositoryを生成する。
func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Create はロットの存在を確かめてから同じトランザクションで受領記録を保存する。
// ロットが存在しない場合は domain.ErrLotNotFound を返す。
func (r *ReceiptRepository) Create(ctx context.Context, e *domain.ReceiptEvent) error {
	model := &ReceiptEventModel{
		ID:       e.ID,
		Location: e.Location,
		UserID:   e.UserID,
		LotID:    e.LotID,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&LotManifestModel{}).Where("id = ?", e.LotID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrLotNotFound
		}
		return tx.Create(model).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrLotNotFound) {
			return err
		}
		slog.ErrorContext(ctx, "failed to create receipt event",
			"operation", "create_receipt_event",
			"lot_id", e.LotID,
			"error", err,
		)
		return err
	}
	e.ID = model.ID
	e.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は受領記録を取得する。存在しない場合は nil を返す。
func (r *ReceiptRepository) FindByID(ctx context.Context, id string) (*domain.ReceiptEvent, error) {
	var model ReceiptEventModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find receipt event",
			"operation", "find_receipt_event_by_id",
			"receipt_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var receiptOrderColumns = map[string]string{
	"created_at": "created_at",
}

// FindAll は条件に合う受領記録を取得する。並び順の指定がなければ新しい順。
func (r *ReceiptRepository) FindAll(ctx context.Context, filter domain.ReceiptFilter) ([]*domain.ReceiptEvent, error) {
	q := r.db.WithContext(ctx).Model(&ReceiptEventModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.LotID != "" {
		q = q.Where("lot_id = ?", filter.LotID)
	}
	if filter.DateFrom != nil {
		q = q.Where("created_at >= ?", startOfDay(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		q = q.Where("created_at < ?", startOfDay(*filter.DateTo).AddDate(0, 0, 1))
	}
	q = applyOrdering(q, filter.Ordering, receiptOrderColumns, orderBy("created_at", true), orderBy("id", false))

	var models []ReceiptEventModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find receipt events",
			"operation", "find_all_receipt_events",
			"error", err,
		)
		return nil, err
	}
	out := make([]*domain.ReceiptEvent, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
