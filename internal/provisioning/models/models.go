package models

import (
	"encoding/json"
	"strings"
)

// RoleStudent is the role tag stored on student identities.
const RoleStudent = "etudiant"

// Metadata is the user metadata attached to an identity.
type Metadata struct {
	Role     string `json:"role"`
	Site     string `json:"site"`
	FullName string `json:"nom_complet,omitempty"`
}

// NewIdentity describes an identity to create.
type NewIdentity struct {
	Email     string
	Password  string
	Confirmed bool
	Metadata  Metadata
}

// Identity is an authentication identity as returned by the identity service.
type Identity struct {
	ID        string
	Email     string
	Confirmed bool
	Metadata  Metadata
}

// StaffCommand carries a validated staff provisioning request.
type StaffCommand struct {
	Token    string
	Email    string
	Password string
	FullName string
	Role     string
	Site     string
}

// StudentCommand carries a validated student provisioning request. Data is
// forwarded to the remote procedures untouched.
type StudentCommand struct {
	Token          string
	Data           json.RawMessage
	FirstName      string
	LastName       string
	Email          string
	TempPassword   string
	ActivateGojika bool
}

// StudentResult is the finalized student record plus the temporary password
// handed back to the operator.
type StudentResult struct {
	Record       json.RawMessage
	TempPassword string
}

// BootstrapAccount is one account seeded by the bootstrap workflow.
type BootstrapAccount struct {
	Label    string
	Role     string
	Email    string
	Password string
	FullName string
	Site     string
}

// BootstrapUser is the per-account entry of the bootstrap response.
type BootstrapUser struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Status   string `json:"status"`
	Warning  string `json:"warning,omitempty"`
}

// StatusSuccess marks a bootstrap user as created.
const StatusSuccess = "success"

// DisplayName joins first and last name, falling back to "Étudiant" for a
// missing last name.
func DisplayName(firstName, lastName string) string {
	if lastName == "" {
		lastName = "Étudiant"
	}
	return strings.TrimSpace(firstName + " " + lastName)
}
