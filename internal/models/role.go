package models

// Role enum
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

// Roles lists every role known to the permission engine.
var Roles = []Role{RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist, RolePatient}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is the pre-verified identity performing an operation, plus the
// request metadata recorded on audit entries.
type Actor struct {
	UserID    string `json:"userId"`
	Role      Role   `json:"role"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}
