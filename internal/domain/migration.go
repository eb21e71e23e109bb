package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はスキーママイグレーション1本分を表す。
type Migration struct {
	Version   string     // 例: "001"
	Name      string     // ファイル名のバージョン以降
	Source    string     // 埋め込みFS内のパス
	AppliedAt *time.Time // 未適用ならnil
	Status    MigrationStatus
}
