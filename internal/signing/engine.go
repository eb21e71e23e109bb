// Package signing はロットマニフェストの正規メッセージ生成・署名・検証を提供する。
//
// 署名は販売業者側のクライアント（rxctl）だけが行い、サーバーは Verify のみを使う。
// 署名鍵はサーバーに保存されないため、公開鍵を読める者が署名を偽造することはできない。
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"rxverify-service/internal/domain"
)

// Delimiter は正規メッセージのフィールド区切り。既存署名との互換のため変更しない。
const Delimiter = "|"

// SigningKeySize は利用者に払い出す署名鍵（Ed25519 シード）のバイト長。
const SigningKeySize = ed25519.SeedSize

// Signer は正規メッセージに署名する。
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// GenerateIdentity は新しい鍵ペアを生成し、公開鍵と署名鍵（シード）を返す。
func GenerateIdentity() (publicKey, signingKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return []byte(pub), priv.Seed(), nil
}

// CanonicalMessage は batch_number | expiry_date | distributor_id の順で正規メッセージを組み立てる。
func CanonicalMessage(batchNumber string, expiryDate time.Time, distributorID string) []byte {
	return []byte(strings.Join([]string{
		batchNumber,
		expiryDate.Format(domain.ExpiryDateLayout),
		distributorID,
	}, Delimiter))
}

// LotMessage はロットの現在のフィールドから正規メッセージを組み立てる。
func LotMessage(lot *domain.LotManifest) []byte {
	return CanonicalMessage(lot.BatchNumber, lot.ExpiryDate, lot.DistributorID)
}

// SignLot はロットの正規メッセージに署名し、小文字hexの署名を返す。
func SignLot(ctx context.Context, lot *domain.LotManifest, signer Signer) (string, error) {
	sig, err := signer.Sign(ctx, LotMessage(lot))
	if err != nil {
		return "", fmt.Errorf("signing lot manifest: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify はロットの現在のフィールドから正規メッセージを再計算し、保存済み署名を公開鍵で検証する。
// 空・非hexの署名、長さ不正の鍵、署名不一致はすべて false を返し、panic もエラーも返さない。
func Verify(lot *domain.LotManifest, publicKey []byte) bool {
	if lot == nil || lot.DigitalSignature == "" {
		return false
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(lot.DigitalSignature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), LotMessage(lot), sig)
}

// ValidateSignatureHex は署名文字列の形式だけを検査する。
func ValidateSignatureHex(s string) error {
	sig, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrInvalidInput)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature must be %d bytes", domain.ErrInvalidInput, ed25519.SignatureSize)
	}
	return nil
}

// KeySigner はローカルの Ed25519 鍵で署名する。
type KeySigner struct {
	key ed25519.PrivateKey
}

// NewKeySigner はKeySignerを生成する。
func NewKeySigner(key ed25519.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// Sign は message に署名する。
func (s *KeySigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return nil, domain.ErrInvalidSigningKey
	}
	return ed25519.Sign(s.key, message), nil
}

// PublicKey は対応する公開鍵を返す。
func (s *KeySigner) PublicKey() []byte {
	return []byte(s.key.Public().(ed25519.PublicKey))
}

// ParseSigningKeyHex はhexの署名鍵を読み込む。32バイトのシードと64バイトの秘密鍵の両方を受け付ける。
func ParseSigningKeyHex(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: not a hex string", domain.ErrInvalidSigningKey)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("%w: want %d or %d bytes, got %d",
			domain.ErrInvalidSigningKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}
