// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rxverify-service/internal/domain"
)

// DistributorModel はgorm用のモデル定義。公開鍵はhexで保存する。
type DistributorModel struct {
	ID                  string    `gorm:"type:varchar(36);primaryKey"`
	Name                string    `gorm:"type:varchar(255);not null;index:idx_distributor_name"`
	PublicKey           string    `gorm:"type:varchar(64);not null"`
	IsVerifiedRegulator bool      `gorm:"not null;default:false"`
	OwnerID             string    `gorm:"type:varchar(36);not null;default:'';index:idx_distributor_owner"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (DistributorModel) TableName() string {
	return "distributors"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *DistributorModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
// 保存値が壊れている場合も公開鍵は空のまま返し、検証側で偽造扱いになる。
func (m *DistributorModel) toDomain() *domain.Distributor {
	publicKey, _ := hex.DecodeString(m.PublicKey)
	return &domain.Distributor{
		ID:                  m.ID,
		Name:                m.Name,
		PublicKey:           publicKey,
		IsVerifiedRegulator: m.IsVerifiedRegulator,
		OwnerID:             m.OwnerID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// DistributorRepository は販売業者のデータアクセスを提供する。
type DistributorRepository struct {
	db *gorm.DB
}

// NewDistributorRepository は新しいDistributorRepositoryを生成する。
func NewDistributorRepository(db *gorm.DB) *DistributorRepository {
	return &DistributorRepository{db: db}
}

// Create は新しい販売業者を保存する。
func (r *DistributorRepository) Create(ctx context.Context, d *domain.Distributor) error {
	model := &DistributorModel{
		ID:                  d.ID,
		Name:                d.Name,
		PublicKey:           d.PublicKeyHex(),
		IsVerifiedRegulator: d.IsVerifiedRegulator,
		OwnerID:             d.OwnerID,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create distributor",
			"operation", "create_distributor",
			"name", d.Name,
			"error", err,
		)
		return err
	}
	d.ID = model.ID
	d.CreatedAt = model.CreatedAt
	d.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は販売業者を取得する。存在しない場合は nil を返す。
func (r *DistributorRepository) FindByID(ctx context.Context, id string) (*domain.Distributor, error) {
	var model DistributorModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find distributor",
			"operation", "find_distributor_by_id",
			"distributor_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var distributorOrderColumns = map[string]string{
	"name":                  "name",
	"is_verified_regulator": "is_verified_regulator",
}

// FindAll は条件に合う販売業者を取得する。並び順の指定がなければ名前順。
func (r *DistributorRepository) FindAll(ctx context.Context, filter domain.DistributorFilter) ([]*domain.Distributor, error) {
	q := r.db.WithContext(ctx).Model(&DistributorModel{})
	if filter.Search != "" {
		q = whereContains(q, filter.Search, "name")
	}
	if filter.Verified != nil {
		q = q.Where("is_verified_regulator = ?", *filter.Verified)
	}
	q = applyOrdering(q, filter.Ordering, distributorOrderColumns, orderBy("name", false), orderBy("id", false))

	var models []DistributorModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find distributors",
			"operation", "find_all_distributors",
			"error", err,
		)
		return nil, err
	}
	out := make([]*domain.Distributor, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// Update は名前・規制当局認定フラグ・公開鍵を更新する。
func (r *DistributorRepository) Update(ctx context.Context, d *domain.Distributor) error {
	err := r.db.WithContext(ctx).
		Model(&DistributorModel{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{
			"name":                  d.Name,
			"is_verified_regulator": d.IsVerifiedRegulator,
			"public_key":            d.PublicKeyHex(),
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update distributor",
			"operation", "update_distributor",
			"distributor_id", d.ID,
			"error", err,
		)
		return err
	}
	return nil
}
