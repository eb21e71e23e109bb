package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rxverify-service/internal/domain"
	"rxverify-service/internal/signing"
)

// LotRepository はロットマニフェストのデータアクセスのインターフェース。
type LotRepository interface {
	ExistsByBatchNumber(ctx context.Context, batchNumber, excludeID string) (bool, error)
	Create(ctx context.Context, lot *domain.LotManifest) error
	FindByID(ctx context.Context, id string) (*domain.LotManifest, error)
	FindAll(ctx context.Context, filter domain.LotFilter) ([]*domain.LotManifest, error)
	Update(ctx context.Context, lot *domain.LotManifest) error
	Delete(ctx context.Context, id string) error
}

// CreateLotInput はロット登録の入力。DigitalSignature は販売業者のクライアントで作成済みの署名。
type CreateLotInput struct {
	BatchNumber      string
	ExpiryDate       string
	MedicineID       string
	DistributorID    string
	DigitalSignature string
}

// UpdateLotInput はロット更新の入力。nil のフィールドは変更しない。
// 信頼スコアは更新対象に含めない。
type UpdateLotInput struct {
	BatchNumber      *string
	ExpiryDate       *string
	MedicineID       *string
	DistributorID    *string
	DigitalSignature *string
}

// LotService はロットマニフェストのビジネスロジックを提供する。
type LotService struct {
	lots         LotRepository
	medicines    MedicineRepository
	distributors DistributorRepository
	now          func() time.Time
}

// NewLotService は新しいLotServiceを生成する。
func NewLotService(lots LotRepository, medicines MedicineRepository, distributors DistributorRepository) *LotService {
	return &LotService{
		lots:         lots,
		medicines:    medicines,
		distributors: distributors,
		now:          time.Now,
	}
}

// Create はロットを登録する。提出された署名は登録前に販売業者の公開鍵で検証し、
// 初期スコアはフラグのない状態から算出する。
func (s *LotService) Create(ctx context.Context, in CreateLotInput) (*domain.LotManifest, error) {
	batch := strings.TrimSpace(in.BatchNumber)
	if batch == "" {
		return nil, fmt.Errorf("%w: batch_number is required", domain.ErrInvalidInput)
	}
	if in.MedicineID == "" || in.DistributorID == "" {
		return nil, fmt.Errorf("%w: medicine_id and distributor_id are required", domain.ErrInvalidInput)
	}
	expiry, err := domain.ParseExpiryDate(in.ExpiryDate)
	if err != nil {
		return nil, err
	}

	if err := s.ensureMedicine(ctx, in.MedicineID); err != nil {
		return nil, err
	}
	distributor, err := s.findDistributor(ctx, in.DistributorID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBatchAvailable(ctx, batch, ""); err != nil {
		return nil, err
	}

	lot := &domain.LotManifest{
		BatchNumber:      batch,
		ExpiryDate:       expiry,
		MedicineID:       in.MedicineID,
		DistributorID:    in.DistributorID,
		DigitalSignature: strings.ToLower(strings.TrimSpace(in.DigitalSignature)),
	}
	if err := checkSignature(lot, distributor); err != nil {
		return nil, err
	}
	lot.TrustScore = ComputeTrustScore(ctx, nil)

	if err := s.lots.Create(ctx, lot); err != nil {
		return nil, fmt.Errorf("saving lot: %w", err)
	}
	return lot, nil
}

// Update はロットを更新する。バッチ番号・有効期限・販売業者のいずれかを変える場合は
// 新しい署名が必要。
func (s *LotService) Update(ctx context.Context, id string, in UpdateLotInput) (*domain.LotManifest, error) {
	lot, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	signedFieldsChanged := false
	if in.BatchNumber != nil {
		batch := strings.TrimSpace(*in.BatchNumber)
		if batch == "" {
			return nil, fmt.Errorf("%w: batch_number must not be empty", domain.ErrInvalidInput)
		}
		if batch != lot.BatchNumber {
			if err := s.ensureBatchAvailable(ctx, batch, lot.ID); err != nil {
				return nil, err
			}
			lot.BatchNumber = batch
			signedFieldsChanged = true
		}
	}
	if in.ExpiryDate != nil {
		expiry, err := domain.ParseExpiryDate(*in.ExpiryDate)
		if err != nil {
			return nil, err
		}
		if !expiry.Equal(lot.ExpiryDate) {
			lot.ExpiryDate = expiry
			signedFieldsChanged = true
		}
	}
	if in.DistributorID != nil && *in.DistributorID != lot.DistributorID {
		lot.DistributorID = *in.DistributorID
		signedFieldsChanged = true
	}
	if in.MedicineID != nil && *in.MedicineID != lot.MedicineID {
		if err := s.ensureMedicine(ctx, *in.MedicineID); err != nil {
			return nil, err
		}
		lot.MedicineID = *in.MedicineID
	}

	if signedFieldsChanged && in.DigitalSignature == nil {
		return nil, fmt.Errorf("%w: batch_number, expiry_date or distributor_id changed", domain.ErrSignatureRequired)
	}
	if in.DigitalSignature != nil {
		lot.DigitalSignature = strings.ToLower(strings.TrimSpace(*in.DigitalSignature))
		distributor, err := s.findDistributor(ctx, lot.DistributorID)
		if err != nil {
			return nil, err
		}
		if err := checkSignature(lot, distributor); err != nil {
			return nil, err
		}
	}

	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, fmt.Errorf("updating lot: %w", err)
	}
	return lot, nil
}

// Get はロットを取得する。
func (s *LotService) Get(ctx context.Context, id string) (*domain.LotManifest, error) {
	lot, err := s.lots.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding lot: %w", err)
	}
	if lot == nil {
		return nil, domain.ErrLotNotFound
	}
	return lot, nil
}

// List はロットの一覧を取得する。
func (s *LotService) List(ctx context.Context, filter domain.LotFilter) ([]*domain.LotManifest, error) {
	if filter.Now.IsZero() {
		filter.Now = s.now()
	}
	lots, err := s.lots.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding lots: %w", err)
	}
	return lots, nil
}

// Delete はロットとそのフラグを削除する。
func (s *LotService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.lots.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting lot: %w", err)
	}
	return nil
}

func (s *LotService) ensureMedicine(ctx context.Context, id string) error {
	m, err := s.medicines.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("finding medicine: %w", err)
	}
	if m == nil {
		return domain.ErrMedicineNotFound
	}
	return nil
}

func (s *LotService) findDistributor(ctx context.Context, id string) (*domain.Distributor, error) {
	d, err := s.distributors.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding distributor: %w", err)
	}
	if d == nil {
		return nil, domain.ErrDistributorNotFound
	}
	return d, nil
}

func (s *LotService) ensureBatchAvailable(ctx context.Context, batch, excludeID string) error {
	exists, err := s.lots.ExistsByBatchNumber(ctx, batch, excludeID)
	if err != nil {
		return fmt.Errorf("checking batch number: %w", err)
	}
	if exists {
		return domain.ErrBatchNumberAlreadyExists
	}
	return nil
}

// checkSignature は書き込み前に署名を検証する。
func checkSignature(lot *domain.LotManifest, distributor *domain.Distributor) error {
	if lot.DigitalSignature == "" {
		return domain.ErrSignatureRequired
	}
	if !signing.Verify(lot, distributor.PublicKey) {
		return domain.ErrSignatureInvalid
	}
	return nil
}
