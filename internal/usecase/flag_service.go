package usecase

import (
	"context"
	"fmt"
	"strings"

	"rxverify-service/internal/domain"
)

// FlagRepository は品質フラグのデータアクセスのインターフェース。
type FlagRepository interface {
	// Create は対象ロットが存在する場合だけ保存する。存在しなければ domain.ErrLotNotFound。
	Create(ctx context.Context, flag *domain.CrowdFlag) error
	FindByID(ctx context.Context, id string) (*domain.CrowdFlag, error)
	FindAll(ctx context.Context, filter domain.FlagFilter) ([]*domain.CrowdFlag, error)
	Update(ctx context.Context, flag *domain.CrowdFlag) error
	Delete(ctx context.Context, id string) error
	CountUnresolvedByLotID(ctx context.Context, lotID string) (int64, error)
}

// CreateFlagInput はフラグ報告の入力。UserID は呼び出し元から設定する。
type CreateFlagInput struct {
	ReporterType string
	IssueType    string
	Severity     string
	Description  string
	LotID        string
	UserID       string
}

// UpdateFlagInput はフラグ更新の入力。nil のフィールドは変更しない。
// LotID は現在と同じ値のみ受け付ける。
type UpdateFlagInput struct {
	ReporterType *string
	IssueType    *string
	Severity     *string
	Description  *string
	IsResolved   *bool
	LotID        *string
}

// FlagService は品質フラグのビジネスロジックを提供する。
// 書き込みが確定するたびに FlagHooks で対象ロットのスコアを再計算する。
type FlagService struct {
	flags FlagRepository
	hooks *FlagHooks
}

// NewFlagService は新しいFlagServiceを生成する。
func NewFlagService(flags FlagRepository, hooks *FlagHooks) *FlagService {
	return &FlagService{flags: flags, hooks: hooks}
}

// Create はフラグを登録し、対象ロットのスコアを再計算する。
// ロットの存在確認と保存はリポジトリの1トランザクションで行い、ロットがなければ domain.ErrLotNotFound。
// 保存後の再計算に失敗した場合は保存済みのフラグと domain.ErrScoreSyncFailed を返す。
func (s *FlagService) Create(ctx context.Context, in CreateFlagInput) (*domain.CrowdFlag, error) {
	severity, err := domain.ParseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	flag := &domain.CrowdFlag{
		ReporterType: strings.TrimSpace(in.ReporterType),
		IssueType:    strings.TrimSpace(in.IssueType),
		Severity:     severity,
		Description:  strings.TrimSpace(in.Description),
		UserID:       in.UserID,
		LotID:        in.LotID,
	}
	if err := validateFlag(flag); err != nil {
		return nil, err
	}

	if err := s.flags.Create(ctx, flag); err != nil {
		return nil, fmt.Errorf("saving flag: %w", err)
	}
	if err := s.hooks.AfterCreate(ctx, flag); err != nil {
		return flag, err
	}
	return flag, nil
}

// Update はフラグを更新し、対象ロットのスコアを再計算する。
func (s *FlagService) Update(ctx context.Context, id string, in UpdateFlagInput) (*domain.CrowdFlag, error) {
	flag, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.LotID != nil && *in.LotID != flag.LotID {
		return nil, domain.ErrFlagLotImmutable
	}
	if in.ReporterType != nil {
		flag.ReporterType = strings.TrimSpace(*in.ReporterType)
	}
	if in.IssueType != nil {
		flag.IssueType = strings.TrimSpace(*in.IssueType)
	}
	if in.Description != nil {
		flag.Description = strings.TrimSpace(*in.Description)
	}
	if in.Severity != nil {
		severity, err := domain.ParseSeverity(*in.Severity)
		if err != nil {
			return nil, err
		}
		flag.Severity = severity
	}
	if in.IsResolved != nil {
		flag.IsResolved = *in.IsResolved
	}
	if err := validateFlag(flag); err != nil {
		return nil, err
	}

	return s.save(ctx, flag)
}

// Resolve はフラグを解決済みにする。
func (s *FlagService) Resolve(ctx context.Context, id string) (*domain.CrowdFlag, error) {
	return s.setResolved(ctx, id, true)
}

// Unresolve はフラグを未解決に戻す。
func (s *FlagService) Unresolve(ctx context.Context, id string) (*domain.CrowdFlag, error) {
	return s.setResolved(ctx, id, false)
}

func (s *FlagService) setResolved(ctx context.Context, id string, resolved bool) (*domain.CrowdFlag, error) {
	flag, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	flag.IsResolved = resolved
	return s.save(ctx, flag)
}

func (s *FlagService) save(ctx context.Context, flag *domain.CrowdFlag) (*domain.CrowdFlag, error) {
	if err := s.flags.Update(ctx, flag); err != nil {
		return nil, fmt.Errorf("updating flag: %w", err)
	}
	if err := s.hooks.AfterUpdate(ctx, flag); err != nil {
		return flag, err
	}
	return flag, nil
}

// Delete はフラグを削除し、削除前に控えたロットのスコアを再計算する。
func (s *FlagService) Delete(ctx context.Context, id string) error {
	flag, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	lotID := flag.LotID

	if err := s.flags.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting flag: %w", err)
	}
	return s.hooks.AfterDelete(ctx, lotID)
}

// Get はフラグを取得する。
func (s *FlagService) Get(ctx context.Context, id string) (*domain.CrowdFlag, error) {
	flag, err := s.flags.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding flag: %w", err)
	}
	if flag == nil {
		return nil, domain.ErrFlagNotFound
	}
	return flag, nil
}

// List はフラグの一覧を取得する。
func (s *FlagService) List(ctx context.Context, filter domain.FlagFilter) ([]*domain.CrowdFlag, error) {
	flags, err := s.flags.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding flags: %w", err)
	}
	return flags, nil
}

func validateFlag(f *domain.CrowdFlag) error {
	switch {
	case f.ReporterType == "":
		return fmt.Errorf("%w: reporter_type is required", domain.ErrInvalidInput)
	case f.IssueType == "":
		return fmt.Errorf("%w: issue_type is required", domain.ErrInvalidInput)
	case f.Description == "":
		return fmt.Errorf("%w: description is required", domain.ErrInvalidInput)
	case f.LotID == "":
		return fmt.Errorf("%w: lot_id is required", domain.ErrInvalidInput)
	case f.UserID == "":
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	return nil
}
