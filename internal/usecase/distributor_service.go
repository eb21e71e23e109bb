// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"strings"

	"rxverify-service/internal/domain"
	"rxverify-service/internal/signing"
)

// DistributorRepository は販売業者のデータアクセスのインターフェース。
type DistributorRepository interface {
	Create(ctx context.Context, d *domain.Distributor) error
	FindByID(ctx context.Context, id string) (*domain.Distributor, error)
	FindAll(ctx context.Context, filter domain.DistributorFilter) ([]*domain.Distributor, error)
	Update(ctx context.Context, d *domain.Distributor) error
}

// RegisterDistributorInput は販売業者登録の入力。
// PublicKeyHex が空の場合はサーバーで鍵ペアを生成し、署名鍵を一度だけ返す。
// OwnerID は呼び出し元のユーザーで、IsVerifiedRegulator を立てられるかどうかは呼び出し側で判定する。
type RegisterDistributorInput struct {
	Name                string
	PublicKeyHex        string
	IsVerifiedRegulator bool
	OwnerID             string
}

// UpdateDistributorInput は販売業者更新の入力。nil のフィールドは変更しない。
type UpdateDistributorInput struct {
	Name                *string
	PublicKeyHex        *string
	IsVerifiedRegulator *bool
}

// DistributorService は販売業者と署名者IDに関するビジネスロジックを提供する。
type DistributorService struct {
	repo     DistributorRepository
	generate func() (publicKey, signingKey []byte, err error)
}

// NewDistributorService は新しいDistributorServiceを生成する。
func NewDistributorService(repo DistributorRepository) *DistributorService {
	return &DistributorService{
		repo:     repo,
		generate: signing.GenerateIdentity,
	}
}

// Register は販売業者を登録する。公開鍵が指定されていればそれを登録し、
// なければ鍵ペアを生成する。生成した署名鍵は保存しない。
func (s *DistributorService) Register(ctx context.Context, in RegisterDistributorInput) (*domain.ProvisionedDistributor, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}

	d := &domain.Distributor{
		Name:                name,
		IsVerifiedRegulator: in.IsVerifiedRegulator,
		OwnerID:             in.OwnerID,
	}

	var signingKey []byte
	if strings.TrimSpace(in.PublicKeyHex) != "" {
		pub, err := domain.DecodePublicKeyHex(in.PublicKeyHex)
		if err != nil {
			return nil, err
		}
		d.PublicKey = pub
	} else {
		pub, seed, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generating identity: %w", err)
		}
		d.PublicKey = pub
		signingKey = seed
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("saving distributor: %w", err)
	}

	return &domain.ProvisionedDistributor{
		Distributor: d,
		SigningKey:  signingKey,
	}, nil
}

// Get は販売業者を取得する。
func (s *DistributorService) Get(ctx context.Context, id string) (*domain.Distributor, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding distributor: %w", err)
	}
	if d == nil {
		return nil, domain.ErrDistributorNotFound
	}
	return d, nil
}

// OwnerOf は販売業者を登録したユーザーのIDを返す。
func (s *DistributorService) OwnerOf(ctx context.Context, id string) (string, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return d.OwnerID, nil
}

// List は販売業者の一覧を取得する。
func (s *DistributorService) List(ctx context.Context, filter domain.DistributorFilter) ([]*domain.Distributor, error) {
	ds, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding distributors: %w", err)
	}
	return ds, nil
}

// Update は販売業者を更新する。公開鍵の差し替えはこの明示的な管理操作でのみ行う。
func (s *DistributorService) Update(ctx context.Context, id string, in UpdateDistributorInput) (*domain.Distributor, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", domain.ErrInvalidInput)
		}
		d.Name = name
	}
	if in.PublicKeyHex != nil {
		pub, err := domain.DecodePublicKeyHex(*in.PublicKeyHex)
		if err != nil {
			return nil, err
		}
		d.PublicKey = pub
	}
	if in.IsVerifiedRegulator != nil {
		d.IsVerifiedRegulator = *in.IsVerifiedRegulator
	}

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("updating distributor: %w", err)
	}
	return d, nil
}
