package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rxverify-service/internal/domain"
)

// CrowdFlagModel はgorm用のモデル定義。
type CrowdFlagModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	ReporterType string    `gorm:"type:varchar(50);not null"`
	IssueType    string    `gorm:"type:varchar(100);not null"`
	Severity     string    `gorm:"type:varchar(10);not null;index:idx_flag_severity"`
	Description  string    `gorm:"type:text;not null"`
	UserID       string    `gorm:"type:varchar(36);not null;index:idx_flag_user"`
	LotID        string    `gorm:"type:varchar(36);not null;index:idx_flag_lot_resolved"`
	IsResolved   bool      `gorm:"not null;default:false;index:idx_flag_lot_resolved"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index:idx_flag_created_at"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (CrowdFlagModel) TableName() string {
	return "crowd_flags"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *CrowdFlagModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *CrowdFlagModel) toDomain() *domain.CrowdFlag {
	return &domain.CrowdFlag{
		ID:           m.ID,
		ReporterType: m.ReporterType,
		IssueType:    m.IssueType,
		Severity:     domain.Severity(m.Severity),
		Description:  m.Description,
		UserID:       m.UserID,
		LotID:        m.LotID,
		IsResolved:   m.IsResolved,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FlagRepository は品質フラグのデータアクセスを提供する。
type FlagRepository struct {
	db *gorm.DB
}

// NewFlagRepository は新しいFlagRepositoryを生成する。
func NewFlagRepository(db *gorm.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// Create はロット行をロックして存在を確かめてから、同じトランザクションでフラグを保存する。
// ロットが存在しない場合は domain.ErrLotNotFound を返す。
func (r *FlagRepository) Create(ctx context.Context, flag *domain.CrowdFlag) error {
	model := &CrowdFlagModel{
		ID:           flag.ID,
		ReporterType: flag.ReporterType,
		IssueType:    flag.IssueType,
		Severity:     string(flag.Severity),
		Description:  flag.Description,
		UserID:       flag.UserID,
		LotID:        flag.LotID,
		IsResolved:   flag.IsResolved,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lot LotManifestModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", flag.LotID).
			First(&lot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrLotNotFound
		}
		if err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrLotNotFound) {
			return err
		}
		slog.ErrorContext(ctx, "failed to create flag",
			"operation", "create_flag",
			"lot_id", flag.LotID,
			"error", err,
		)
		return translateLockError(err)
	}
	flag.ID = model.ID
	flag.CreatedAt = model.CreatedAt
	flag.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID はフラグを取得する。存在しない場合は nil を返す。
func (r *FlagRepository) FindByID(ctx context.Context, id string) (*domain.CrowdFlag, error) {
	var model CrowdFlagModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find flag",
			"operation", "find_flag_by_id",
			"flag_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

var flagOrderColumns = map[string]string{
	"created_at":  "created_at",
	"issue_type":  "issue_type",
	"is_resolved": "is_resolved",
}

// FindAll は条件に合うフラグを取得する。並び順の指定がなければ新しい順。
func (r *FlagRepository) FindAll(ctx context.Context, filter domain.FlagFilter) ([]*domain.CrowdFlag, error) {
	q := r.db.WithContext(ctx).Model(&CrowdFlagModel{})
	if filter.Resolved != nil {
		q = q.Where("is_resolved = ?", *filter.Resolved)
	}
	if filter.IssueType != "" {
		q = whereContains(q, filter.IssueType, "issue_type")
	}
	if filter.ReporterType != "" {
		q = whereContains(q, filter.ReporterType, "reporter_type")
	}
	if filter.Search != "" {
		q = whereContains(q, filter.Search, "description", "issue_type")
	}
	if filter.LotID != "" {
		q = q.Where("lot_id = ?", filter.LotID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}

	q = applyOrdering(q, filter.Ordering, flagOrderColumns, orderBy("created_at", true), orderBy("id", false))

	var models []CrowdFlagModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find flags",
			"operation", "find_all_flags",
			"error", err,
		)
		return nil, err
	}
	out := make([]*domain.CrowdFlag, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// Update は報告内容と解決状態を更新する。対象ロットは更新しない。
func (r *FlagRepository) Update(ctx context.Context, flag *domain.CrowdFlag) error {
	err := r.db.WithContext(ctx).
		Model(&CrowdFlagModel{ID: flag.ID}).
		Select("reporter_type", "issue_type", "severity", "description", "is_resolved").
		Updates(&CrowdFlagModel{
			ReporterType: flag.ReporterType,
			IssueType:    flag.IssueType,
			Severity:     string(flag.Severity),
			Description:  flag.Description,
			IsResolved:   flag.IsResolved,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update flag",
			"operation", "update_flag",
			"flag_id", flag.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete はフラグを削除する。
func (r *FlagRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&CrowdFlagModel{}).Error; err != nil {
		slog.ErrorContext(ctx, "failed to delete flag",
			"operation", "delete_flag",
			"flag_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// CountUnresolvedByLotID はロットの未解決フラグ数を返す。
func (r *FlagRepository) CountUnresolvedByLotID(ctx context.Context, lotID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CrowdFlagModel{}).
		Where("lot_id = ? AND is_resolved = ?", lotID, false).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count unresolved flags",
			"operation", "count_unresolved_by_lot_id",
			"lot_id", lotID,
			"error", err,
		)
		return 0, err
	}
	return count, nil
}
