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

// MedicineModel はgorm用のモデル定義。
type MedicineModel struct {
	ID               string    `gorm:"type:varchar(36);primaryKey"`
	Name             string    `gorm:"type:varchar(255);not null;index:idx_medicine_name"`
	Category         string    `gorm:"type:varchar(100)"`
	ActiveIngredient string    `gorm:"type:varchar(255)"`
	Strength         string    `gorm:"type:varchar(100)"`
	DosageForm       string    `gorm:"type:varchar(100)"`
	ManufacturerName string    `gorm:"type:varchar(255)"`
	DistributorID    string    `gorm:"type:varchar(36);not null;index:idx_medicine_distributor"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (MedicineModel) TableName() string {
	return "medicines"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *MedicineModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *MedicineModel) toDomain() *domain.Medicine {
	return &domain.Medicine{
		ID:               m.ID,
		Name:             m.Name,
		Category:         m.Category,
		ActiveIngredient: m.ActiveIngredient,
		Strength:         m.Strength,
		DosageForm:       m.DosageForm,
		ManufacturerName: m.ManufacturerName,
		DistributorID:    m.DistributorID,
		CreatedAt:        m.CreatedAt,
	}
}

// MedicineRepository は医薬品カタログのデータアクセスを提供する。
type MedicineRepository struct {
	db *gorm.DB
}

// NewMedicineRepository は新しいMedicineRepositoryを生成する。
func NewMedicineRepository(db *gorm.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

// Create は医薬品を保存する。
func (r *MedicineRepository) Create(ctx context.Context, m *domain.Medicine) error {
	model := &MedicineModel{
		ID:               m.ID,
		Name:             m.Name,
		Category:         m.Category,
		ActiveIngredient: m.ActiveIngredient,
		Strength:         m.Strength,
		DosageForm:       m.DosageForm,
		ManufacturerName: m.ManufacturerName,
		DistributorID:    m.DistributorID,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create medicine",
			"operation", "create_medicine",
			"name", m.Name,
			"error", err,
		)
		return err
	}
	m.ID = model.ID
	m.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は医薬品を取得する。存在しない場合は nil を返す。
func (r *MedicineRepository) FindByID(ctx context.Context, id string) (*domain.Medicine, error) {
	var model MedicineModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find medicine",
			"operation", "find_medicine_by_id",
			"medicine_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var medicineOrderColumns = map[string]string{
	"name":     "name",
	"category": "category",
}

// FindAll は条件に合う医薬品を取得する。並び順の指定がなければ名前順。
func (r *MedicineRepository) FindAll(ctx context.Context, filter domain.MedicineFilter) ([]*domain.Medicine, error) {
	q := r.db.WithContext(ctx).Model(&MedicineModel{})
	if filter.DistributorID != "" {
		q = q.Where("distributor_id = ?", filter.DistributorID)
	}
	if filter.Category != "" {
		q = whereContains(q, filter.Category, "category")
	}
	if filter.Search != "" {
		q = whereContains(q, filter.Search, "name", "category")
	}
	q = applyOrdering(q, filter.Ordering, medicineOrderColumns, orderBy("name", false), orderBy("id", false))

	var models []MedicineModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find medicines",
			"operation", "find_all_medicines",
			"error", err,
		)
		return nil, err
	}
	out := make([]*domain.Medicine, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}
