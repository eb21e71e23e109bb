package domain

import "time"

// Medicine は医薬品カタログの1品目を表す。
type Medicine struct {
	ID               string
	Name             string
	Category         string
	ActiveIngredient string
	Strength         string
	DosageForm       string
	ManufacturerName string
	DistributorID    string
	CreatedAt        time.Time
}

// MedicineFilter は医薬品一覧の絞り込み条件。
type MedicineFilter struct {
	DistributorID string
	Category      string
	Search        string
	Ordering      []OrderField
}
