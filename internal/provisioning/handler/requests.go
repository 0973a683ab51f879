package handler

import (
	"encoding/json"
	"strings"

	"provisioner/internal/provisioning/models"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/email"
)

// StaffRequest is the HTTP request body for POST /create-staff.
type StaffRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	NomComplet string `json:"nom_complet"`
	Role       string `json:"role"`
	Site       string `json:"site"`
}

// Validate trims every field and checks they are all present.
func (r *StaffRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "corps de requête manquant")
	}
	r.Email = strings.TrimSpace(r.Email)
	r.NomComplet = strings.TrimSpace(r.NomComplet)
	r.Role = strings.TrimSpace(r.Role)
	r.Site = strings.TrimSpace(r.Site)

	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email est requis")
	}
	normalized, err := email.Normalize(r.Email)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "email invalide")
	}
	r.Email = normalized
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password est requis")
	}
	if r.NomComplet == "" {
		return dErrors.New(dErrors.CodeValidation, "nom_complet est requis")
	}
	if r.Role == "" {
		return dErrors.New(dErrors.CodeValidation, "role est requis")
	}
	if r.Site == "" {
		return dErrors.New(dErrors.CodeValidation, "site est requis")
	}
	return nil
}

// Command converts the validated request for the service.
func (r *StaffRequest) Command(token string) models.StaffCommand {
	return models.StaffCommand{
		Token:    token,
		Email:    r.Email,
		Password: r.Password,
		FullName: r.NomComplet,
		Role:     r.Role,
		Site:     r.Site,
	}
}

// StudentRequest is the HTTP request body for POST /create-student-v2.
// StudentData is kept as received so unknown fields reach the procedures;
// only email_contact is rewritten to its normalized form.
type StudentRequest struct {
	StudentData    json.RawMessage `json:"student_data"`
	TempPassword   string          `json:"temp_password"`
	ActivateGojika bool            `json:"activate_gojika"`

	// Parsed values (populated by Validate)
	student studentFields
}

type studentFields struct {
	Nom          string
	Prenom       string
	EmailContact string
}

// Validate reads the fields the workflow needs out of student_data.
func (r *StudentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "corps de requête manquant")
	}
	if len(r.StudentData) == 0 || string(r.StudentData) == "null" {
		return dErrors.New(dErrors.CodeValidation, "student_data est requis")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.StudentData, &fields); err != nil || fields == nil {
		return dErrors.New(dErrors.CodeValidation, "student_data doit être un objet")
	}

	var ok bool
	if r.student.Nom, ok = scalarText(fields["nom"]); !ok {
		return dErrors.New(dErrors.CodeValidation, "student_data.nom invalide")
	}
	if r.student.Prenom, ok = scalarText(fields["prenom"]); !ok {
		return dErrors.New(dErrors.CodeValidation, "student_data.prenom invalide")
	}

	rawEmail, present := fields["email_contact"]
	var contact string
	if present && string(rawEmail) != "null" {
		if err := json.Unmarshal(rawEmail, &contact); err != nil {
			return dErrors.New(dErrors.CodeValidation, "student_data.email_contact invalide")
		}
	}
	if strings.TrimSpace(contact) == "" {
		return dErrors.New(dErrors.CodeValidation, "student_data.email_contact est requis")
	}
	normalized, err := email.Normalize(contact)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "student_data.email_contact invalide")
	}
	r.student.EmailContact = normalized
	if normalized != contact {
		// the domain record must carry the same address as the identity
		fields["email_contact"], _ = json.Marshal(normalized)
		data, err := json.Marshal(fields)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "student_data illisible")
		}
		r.StudentData = data
	}

	if r.TempPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "temp_password est requis")
	}
	return nil
}

// scalarText renders a JSON string, number or boolean as trimmed text.
// Absent and null values are empty; objects and arrays are rejected.
func scalarText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '{', '[':
		return "", false
	default:
		return strings.TrimSpace(string(raw)), true
	}
}

// Command converts the validated request for the service.
func (r *StudentRequest) Command(token string) models.StudentCommand {
	return models.StudentCommand{
		Token:          token,
		Data:           r.StudentData,
		FirstName:      r.student.Prenom,
		LastName:       r.student.Nom,
		Email:          r.student.EmailContact,
		TempPassword:   r.TempPassword,
		ActivateGojika: r.ActivateGojika,
	}
}
