package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rxverify-service/internal/domain"
)

// LotManifestModel はgorm用のモデル定義。
type LotManifestModel struct {
	ID               string          `gorm:"type:varchar(36);primaryKey"`
	BatchNumber      string          `gorm:"type:varchar(100);not null;uniqueIndex:uk_batch_number"`
	ExpiryDate       time.Time       `gorm:"type:date;not null;index:idx_expiry_date"`
	MedicineID       string          `gorm:"type:varchar(36);not null;index:idx_lot_medicine"`
	DistributorID    string          `gorm:"type:varchar(36);not null;index:idx_lot_distributor"`
	DigitalSignature string          `gorm:"type:text;not null"`
	TrustScore       decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (LotManifestModel) TableName() string {
	return "lot_manifests"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *LotManifestModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *LotManifestModel) toDomain() *domain.LotManifest {
	return &domain.LotManifest{
		ID:               m.ID,
		BatchNumber:      m.BatchNumber,
		ExpiryDate:       m.ExpiryDate.UTC(),
		MedicineID:       m.MedicineID,
		DistributorID:    m.DistributorID,
		DigitalSignature: m.DigitalSignature,
		TrustScore:       m.TrustScore,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// LotRepository はロットマニフェストのデータアクセスを提供する。
type LotRepository struct {
	db *gorm.DB
}

// NewLotRepository は新しいLotRepositoryを生成する。
func NewLotRepository(db *gorm.DB) *LotRepository {
	return &LotRepository{db: db}
}

// ExistsByBatchNumber はバッチ番号が他のロットで使われているか確認する。excludeID のロットは除外する。
func (r *LotRepository) ExistsByBatchNumber(ctx context.Context, batchNumber, excludeID string) (bool, error) {
	q := r.db.WithContext(ctx).
		Model(&LotManifestModel{}).
		Where("batch_number = ?", batchNumber)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to count lots by batch number",
			"operation", "exists_by_batch_number",
			"batch_number", batchNumber,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// Create はロットを保存する。
func (r *LotRepository) Create(ctx context.Context, lot *domain.LotManifest) error {
	model := &LotManifestModel{
		ID:               lot.ID,
		BatchNumber:      lot.BatchNumber,
		ExpiryDate:       lot.ExpiryDate,
		MedicineID:       lot.MedicineID,
		DistributorID:    lot.DistributorID,
		DigitalSignature: lot.DigitalSignature,
		TrustScore:       lot.TrustScore,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create lot",
			"operation", "create_lot",
			"batch_number", lot.BatchNumber,
			"error", err,
		)
		return err
	}
	lot.ID = model.ID
	lot.CreatedAt = model.CreatedAt
	lot.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID はロットを取得する。存在しない場合は nil を返す。
func (r *LotRepository) FindByID(ctx context.Context, id string) (*domain.LotManifest, error) {
	var model LotManifestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find lot",
			"operation", "find_lot_by_id",
			"lot_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var lotOrderColumns = map[string]string{
	"expiry_date":  "expiry_date",
	"trust_score":  "trust_score",
	"batch_number": "batch_number",
}

// FindAll は条件に合うロットを取得する。並び順の指定がなければ有効期限の新しい順。
// Search はバッチ番号に加えて、医薬品名と販売業者名にも一致する。
func (r *LotRepository) FindAll(ctx context.Context, filter domain.LotFilter) ([]*domain.LotManifest, error) {
	q := r.db.WithContext(ctx).Model(&LotManifestModel{})
	if filter.MedicineID != "" {
		q = q.Where("medicine_id = ?", filter.MedicineID)
	}
	if filter.DistributorID != "" {
		q = q.Where("distributor_id = ?", filter.DistributorID)
	}
	if filter.MinTrustScore != nil {
		q = q.Where("trust_score >= ?", *filter.MinTrustScore)
	}
	if filter.Expired != nil {
		now := filter.Now
		if now.IsZero() {
			now = time.Now()
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if *filter.Expired {
			q = q.Where("expiry_date < ?", today)
		} else {
			q = q.Where("expiry_date >= ?", today)
		}
	}
	if filter.Search != "" {
		pattern := containsPattern(filter.Search)
		q = q.Where(
			fmt.Sprintf("(%s OR medicine_id IN (SELECT id FROM medicines WHERE %s) OR distributor_id IN (SELECT id FROM distributors WHERE %s))",
				fmt.Sprintf(likeContains, "batch_number"),
				fmt.Sprintf(likeContains, "name"),
				fmt.Sprintf(likeContains, "name"),
			),
			pattern, pattern, pattern,
		)
	}
	q = applyOrdering(q, filter.Ordering, lotOrderColumns, orderBy("expiry_date", true), orderBy("batch_number", false))

	var models []LotManifestModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find lots",
			"operation", "find_all_lots",
			"error", err,
		)
		return nil, err
	}
	out := make([]*domain.LotManifest, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// Update は署名対象フィールド・医薬品参照・署名を更新する。trust_score は更新しない。
func (r *LotRepository) Update(ctx context.Context, lot *domain.LotManifest) error {
	err := r.db.WithContext(ctx).
		Model(&LotManifestModel{ID: lot.ID}).
		Select("batch_number", "expiry_date", "medicine_id", "distributor_id", "digital_signature").
		Updates(&LotManifestModel{
			BatchNumber:      lot.BatchNumber,
			ExpiryDate:       lot.ExpiryDate,
			MedicineID:       lot.MedicineID,
			DistributorID:    lot.DistributorID,
			DigitalSignature: lot.DigitalSignature,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update lot",
			"operation", "update_lot",
			"lot_id", lot.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete はロットとそのフラグを削除する。
func (r *LotRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lot_id = ?", id).Delete(&CrowdFlagModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&LotManifestModel{}).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete lot",
			"operation", "delete_lot",
			"lot_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// RecalculateTrustScore は1トランザクション内でロット行をロックし、未解決フラグの読み取り・
// スコア算出・書き込みを行う。ロットが存在しない場合は nil を返す。
// ロック待ちのタイムアウトやデッドロックは domain.ErrConcurrencyConflict として返す。
func (r *LotRepository) RecalculateTrustScore(
	ctx context.Context,
	lotID string,
	score func(ctx context.Context, unresolved []*domain.CrowdFlag) decimal.Decimal,
) (*domain.LotManifest, error) {
	var updated *domain.LotManifest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lot LotManifestModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", lotID).
			First(&lot).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		var flags []CrowdFlagModel
		if err := tx.Where("lot_id = ? AND is_resolved = ?", lotID, false).Find(&flags).Error; err != nil {
			return err
		}
		unresolved := make([]*domain.CrowdFlag, len(flags))
		for i := range flags {
			unresolved[i] = flags[i].toDomain()
		}

		newScore := score(ctx, unresolved)
		if err := tx.Model(&LotManifestModel{}).
			Where("id = ?", lotID).
			Update("trust_score", newScore).Error; err != nil {
			return err
		}

		lot.TrustScore = newScore
		updated = lot.toDomain()
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to recalculate trust score",
			"operation", "recalculate_trust_score",
			"lot_id", lotID,
			"error", err,
		)
		return nil, translateLockError(err)
	}
	return updated, nil
}
