package domain

import (
	"fmt"
	"time"
)

// GeoPoint は受領場所の緯度経度。
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate は緯度経度が範囲内かどうかを確認する。
func (g GeoPoint) Validate() error {
	if g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("%w: lat must be between -90 and 90", ErrInvalidInput)
	}
	if g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("%w: lng must be between -180 and 180", ErrInvalidInput)
	}
	return nil
}

// ReceiptEvent は薬剤師がロットを受領した記録。作成後は変更しない。
type ReceiptEvent struct {
	ID        string
	Location  GeoPoint
	UserID    string
	LotID     string
	CreatedAt time.Time
}

// ReceiptFilter は受領記録一覧の絞り込み条件。DateFrom・DateTo は作成日（UTC）で比較し、両端を含む。
type ReceiptFilter struct {
	UserID   string
	LotID    string
	DateFrom *time.Time
	DateTo   *time.Time
	Ordering []OrderField
}
