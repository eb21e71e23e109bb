// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PublicKeySize は販売業者の公開鍵のバイト長（Ed25519）。
const PublicKeySize = 32

// Distributor は医薬品販売業者とその署名者IDを表す。
// OwnerID は登録したユーザー。そのユーザーだけが販売業者名義の医薬品・ロットを登録・更新できる。
type Distributor struct {
	ID                  string
	Name                string
	PublicKey           []byte
	IsVerifiedRegulator bool
	OwnerID             string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DistributorFilter は販売業者一覧の絞り込み条件。
type DistributorFilter struct {
	Search   string
	Verified *bool
	Ordering []OrderField
}

// PublicKeyHex は公開鍵を小文字hexで返す。
func (d *Distributor) PublicKeyHex() string {
	return hex.EncodeToString(d.PublicKey)
}

// ProvisionedDistributor は登録直後の販売業者を表す。
// SigningKey は鍵を生成した場合にのみ設定され、このレスポンス以外では二度と取得できない。
type ProvisionedDistributor struct {
	Distributor *Distributor
	SigningKey  []byte
}

// DecodePublicKeyHex はhex文字列の公開鍵を検証してバイト列に変換する。
func DecodePublicKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: not a hex string", ErrInvalidPublicKey)
	}
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	return b, nil
}
