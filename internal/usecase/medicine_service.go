package usecase

import (
	"context"
	"fmt"
	"strings"

	"rxverify-service/internal/domain"
)

// MedicineRepository は医薬品カタログのデータアクセスのインターフェース。
type MedicineRepository interface {
	Create(ctx context.Context, m *domain.Medicine) error
	FindByID(ctx context.Context, id string) (*domain.Medicine, error)
	FindAll(ctx context.Context, filter domain.MedicineFilter) ([]*domain.Medicine, error)
}

// CreateMedicineInput は医薬品登録の入力。
type CreateMedicineInput struct {
	Name             string
	Category         string
	ActiveIngredient string
	Strength         string
	DosageForm       string
	ManufacturerName string
	DistributorID    string
}

// MedicineService は医薬品カタログのビジネスロジックを提供する。
type MedicineService struct {
	repo         MedicineRepository
	distributors DistributorRepository
}

// NewMedicineService は新しいMedicineServiceを生成する。
func NewMedicineService(repo MedicineRepository, distributors DistributorRepository) *MedicineService {
	return &MedicineService{repo: repo, distributors: distributors}
}

// Create は医薬品を登録する。販売業者は登録済みでなければならない。
func (s *MedicineService) Create(ctx context.Context, in CreateMedicineInput) (*domain.Medicine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if in.DistributorID == "" {
		return nil, fmt.Errorf("%w: distributor_id is required", domain.ErrInvalidInput)
	}

	d, err := s.distributors.FindByID(ctx, in.DistributorID)
	if err != nil {
		return nil, fmt.Errorf("finding distributor: %w", err)
	}
	if d == nil {
		return nil, domain.ErrDistributorNotFound
	}

	m := &domain.Medicine{
		Name:             name,
		Category:         strings.TrimSpace(in.Category),
		ActiveIngredient: strings.TrimSpace(in.ActiveIngredient),
		Strength:         strings.TrimSpace(in.Strength),
		DosageForm:       strings.TrimSpace(in.DosageForm),
		ManufacturerName: strings.TrimSpace(in.ManufacturerName),
		DistributorID:    in.DistributorID,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("saving medicine: %w", err)
	}
	return m, nil
}

// Get は医薬品を取得する。
func (s *MedicineService) Get(ctx context.Context, id string) (*domain.Medicine, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding medicine: %w", err)
	}
	if m == nil {
		return nil, domain.ErrMedicineNotFound
	}
	return m, nil
}

// List は医薬品の一覧を取得する。
func (s *MedicineService) List(ctx context.Context, filter domain.MedicineFilter) ([]*domain.Medicine, error) {
	ms, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding medicines: %w", err)
	}
	return ms, nil
}
