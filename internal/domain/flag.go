package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Severity は品質フラグの深刻度を表す。
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityPenalties = map[Severity]decimal.Decimal{
	SeverityCritical: decimal.RequireFromString("15.00"),
	SeverityHigh:     decimal.RequireFromString("10.00"),
	SeverityMedium:   decimal.RequireFromString("5.00"),
	SeverityLow:      decimal.RequireFromString("2.00"),
}

// ParseSeverity は深刻度を解析する。値は大文字の列挙値と完全一致する必要があり、
// 小文字や前後の空白、未知の値、空文字は既定値に寄せずエラーにする。
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: %q (expected CRITICAL, HIGH, MEDIUM or LOW)", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// IsValid は列挙値のいずれかであるかを返す。
func (s Severity) IsValid() bool {
	_, ok := severityPenalties[s]
	return ok
}

// Penalty は深刻度に対応する減点を返す。未知の深刻度の場合 ok は false。
func (s Severity) Penalty() (penalty decimal.Decimal, ok bool) {
	penalty, ok = severityPenalties[s]
	return penalty, ok
}

// CrowdFlag は患者・薬剤師によるロットの品質報告を表す。
type CrowdFlag struct {
	ID           string
	ReporterType string
	IssueType    string
	Severity     Severity
	Description  string
	UserID       string
	LotID        string
	IsResolved   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FlagFilter はフラグ一覧の絞り込み条件。
// Search は説明と問題種別の部分一致。
type FlagFilter struct {
	Resolved     *bool
	IssueType    string
	ReporterType string
	LotID        string
	UserID       string
	Search       string
	Ordering     []OrderField
}
