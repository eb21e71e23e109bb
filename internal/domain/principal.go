package domain

// Role は利用者のロール。
type Role string

const (
	RoleAdmin       Role = "Admin"
	RolePharmacist  Role = "Pharmacist"
	RolePatient     Role = "Patient"
	RoleDistributor Role = "Distributor"
)

// Principal はゲートウェイから渡された呼び出し元。
type Principal struct {
	UserID string
	Role   Role
}

// IsAnonymous は識別情報がないかどうかを返す。
func (p Principal) IsAnonymous() bool {
	return p.UserID == ""
}
