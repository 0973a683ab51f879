package handler

import (
	"encoding/json"

	"provisioner/internal/provisioning/models"
)

const (
	msgBootstrapDone  = "Bootstrap complet"
	msgStudentCreated = "Compte GOJIKA créé avec succès"
)

// BootstrapResponse is returned by POST /bootstrap-users.
type BootstrapResponse struct {
	Message string                 `json:"message"`
	Users   []models.BootstrapUser `json:"users"`
}

// studentResponse merges the finalized record with the temporary password
// and a confirmation message. A record that is not a JSON object is
// returned under "data".
func studentResponse(res *models.StudentResult) map[string]any {
	body := map[string]any{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(res.Record, &fields); err == nil && fields != nil {
		for k, v := range fields {
			body[k] = v
		}
	} else if len(res.Record) > 0 {
		body["data"] = res.Record
	}
	body["temp_password"] = res.TempPassword
	body["message"] = msgStudentCreated
	return body
}
