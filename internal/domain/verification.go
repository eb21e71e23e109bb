package domain

import "github.com/shopspring/decimal"

// SafetyStatus は信頼スコアから導く3段階の状態。
type SafetyStatus string

const (
	SafetyStatusSafe    SafetyStatus = "SAFE"
	SafetyStatusCaution SafetyStatus = "CAUTION"
	SafetyStatusWarning SafetyStatus = "WARNING"
)

var (
	// MaxTrustScore は信頼スコアの上限かつ初期値。
	MaxTrustScore = decimal.RequireFromString("100.00")
	// MinTrustScore は信頼スコアの下限。
	MinTrustScore = decimal.Zero

	safeThreshold    = decimal.NewFromInt(80)
	cautionThreshold = decimal.NewFromInt(60)
)

// SafetyStatusForScore はスコアを SAFE(>=80) / CAUTION(>=60) / WARNING に分類する。
func SafetyStatusForScore(score decimal.Decimal) SafetyStatus {
	switch {
	case score.GreaterThanOrEqual(safeThreshold):
		return SafetyStatusSafe
	case score.GreaterThanOrEqual(cautionThreshold):
		return SafetyStatusCaution
	default:
		return SafetyStatusWarning
	}
}

// SignatureStatus は署名検証結果の表示文字列。
type SignatureStatus string

const (
	SignatureStatusVerified SignatureStatus = "Verified"
	SignatureStatusForged   SignatureStatus = "Forged/Tampered"
)

// VerificationResult は1ロットの検証結果を表す。
type VerificationResult struct {
	Lot             *LotManifest
	Distributor     *Distributor
	IsAuthentic     bool
	TrustScore      decimal.Decimal
	SafetyStatus    SafetyStatus
	UnresolvedFlags int64
}

// SignatureStatus は IsAuthentic を表示文字列に変換する。
func (r *VerificationResult) SignatureStatus() SignatureStatus {
	if r.IsAuthentic {
		return SignatureStatusVerified
	}
	return SignatureStatusForged
}

// BulkVerificationItem は一括検証の1件分の結果。
// Err はロットや販売業者が見つからないなど、検証そのものができなかった場合に設定される。
type BulkVerificationItem struct {
	LotID  string
	Result *VerificationResult
	Err    error
}
