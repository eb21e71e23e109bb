package domain

import "errors"

var (
	// ErrDistributorNotFound は指定された販売業者が存在しない場合のエラー。
	ErrDistributorNotFound = errors.New("distributor not found")

	// ErrMedicineNotFound は指定された医薬品が存在しない場合のエラー。
	ErrMedicineNotFound = errors.New("medicine not found")

	// ErrLotNotFound は指定されたロットマニフェストが存在しない場合のエラー。
	ErrLotNotFound = errors.New("lot manifest not found")

	// ErrFlagNotFound は指定された品質フラグが存在しない場合のエラー。
	ErrFlagNotFound = errors.New("crowd flag not found")

	// ErrReceiptNotFound は指定された受領記録が存在しない場合のエラー。
	ErrReceiptNotFound = errors.New("receipt event not found")

	// ErrBatchNumberAlreadyExists はバッチ番号が既に登録されている場合のエラー。
	ErrBatchNumberAlreadyExists = errors.New("batch number already exists")

	// ErrInvalidPublicKey は公開鍵の形式（hex・長さ）が不正な場合のエラー。
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSigningKey は署名鍵の形式が不正な場合のエラー。
	ErrInvalidSigningKey = errors.New("invalid signing key")

	// ErrInvalidSeverity は深刻度が列挙値以外の場合のエラー。
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidExpiryDate は有効期限の形式が不正な場合のエラー。
	ErrInvalidExpiryDate = errors.New("invalid expiry date")

	// ErrInvalidInput は入力値が不正な場合のエラー。
	ErrInvalidInput = errors.New("invalid input")

	// ErrSignatureRequired は署名対象フィールドの変更に新しい署名が伴わない場合のエラー。
	ErrSignatureRequired = errors.New("signature required")

	// ErrSignatureInvalid は書き込み時に提出された署名が検証できない場合のエラー。
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrFlagLotImmutable はフラグの対象ロットを変更しようとした場合のエラー。
	ErrFlagLotImmutable = errors.New("flag lot reference is immutable")

	// ErrConcurrencyConflict はロット単位のロック取得がタイムアウトした場合のエラー。
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrScoreSyncFailed はフラグの書き込みは確定したが、ロットの信頼スコアを再計算できなかった場合のエラー。
	ErrScoreSyncFailed = errors.New("trust score recalculation failed")

	// ErrUnauthenticated は呼び出し元が識別できない場合のエラー。
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden は呼び出し元に操作権限がない場合のエラー。
	ErrForbidden = errors.New("forbidden")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
