package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExpiryDateLayout は有効期限の表記（ISO 8601 暦日）。
const ExpiryDateLayout = "2006-01-02"

// LotManifest は医薬品ロットとその署名・信頼スコアを表す。
// DigitalSignature と TrustScore は署名エンジンと信頼スコアエンジン以外から書き換えない。
type LotManifest struct {
	ID               string
	BatchNumber      string
	ExpiryDate       time.Time
	MedicineID       string
	DistributorID    string
	DigitalSignature string
	TrustScore       decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExpiryDateString は有効期限を YYYY-MM-DD で返す。
func (l *LotManifest) ExpiryDateString() string {
	return l.ExpiryDate.Format(ExpiryDateLayout)
}

// IsExpired は基準日時点で有効期限切れかどうかを返す。
func (l *LotManifest) IsExpired(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return l.ExpiryDate.Before(today)
}

// ParseExpiryDate は YYYY-MM-DD 形式の有効期限を解析する。
func ParseExpiryDate(s string) (time.Time, error) {
	t, err := time.Parse(ExpiryDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidExpiryDate, s)
	}
	return t, nil
}

// LotFilter はロット一覧の絞り込み条件。
// Search はバッチ番号・医薬品名・販売業者名の部分一致。
type LotFilter struct {
	MedicineID    string
	DistributorID string
	MinTrustScore *decimal.Decimal
	Expired       *bool
	Search        string
	Ordering      []OrderField
	Now           time.Time
}
