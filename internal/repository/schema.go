package repository

import (
	"context"

	"gorm.io/gorm"
)

// AutoMigrate はSQLiteやPostgreSQLなど埋め込みSQLを使わない環境向けにスキーマを作成する。
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&DistributorModel{},
		&MedicineModel{},
		&LotManifestModel{},
		&CrowdFlagModel{},
		&ReceiptEventModel{},
		&SchemaMigrationModel{},
	)
}
