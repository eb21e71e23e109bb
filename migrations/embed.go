// Package migrations はMySQL用のスキーママイグレーションを埋め込む。
package migrations

import "embed"

// FS は NNN_name.sql 形式のマイグレーションファイルを持つ。
//
//go:embed *.sql
var FS embed.FS
