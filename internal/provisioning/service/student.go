package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"provisioner/internal/provisioning/models"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/platform/audit"
	"provisioner/pkg/platform/saga"
	"provisioner/pkg/requestcontext"
)

const (
	procPrepareStudent  = "prepare_student_data"
	procFinalizeStudent = "finalize_student_creation"
)

var errMissingSite = errors.New("site manquant dans la réponse de validation")

type preparedStudent struct {
	Site string `json:"site"`
}

// siteOf extracts the authoritative site from the validation result.
func siteOf(raw json.RawMessage) (string, error) {
	var p preparedStudent
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", errMissingSite
	}
	if strings.TrimSpace(p.Site) == "" {
		return "", errMissingSite
	}
	return p.Site, nil
}

// ProvisionStudent creates a student account. The student data is forwarded
// to both procedures exactly as received.
func (s *Service) ProvisionStudent(ctx context.Context, cmd models.StudentCommand) (*models.StudentResult, error) {
	wf := models.NewWorkflow()
	event := audit.Event{Email: cmd.Email, Role: models.RoleStudent}
	log := s.logger.With(
		"kind", kindStudent,
		"request_id", requestcontext.RequestID(ctx),
	)

	log.InfoContext(ctx, "opening backend", "step", "1/6")
	if cmd.Token == "" {
		err := dErrors.New(dErrors.CodeUnauthorized, MsgUnauthenticated)
		s.finish(ctx, kindStudent, wf, err, event)
		return nil, err
	}
	backend, err := s.open(ctx)
	if err != nil {
		s.finish(ctx, kindStudent, wf, err, event)
		return nil, err
	}

	var (
		caller   *models.Identity
		site     string
		identity *models.Identity
		record   json.RawMessage
	)

	err = s.newSaga(kindStudent).
		Then(saga.Step{
			Name: "authenticate",
			Do: func(ctx context.Context) error {
				log.InfoContext(ctx, "authenticating caller", "step", "2/6")
				var err error
				if caller, err = s.authenticate(ctx, backend, cmd.Token); err != nil {
					return err
				}
				log.InfoContext(ctx, "caller authenticated", "caller_id", caller.ID)
				return wf.Advance(models.StateAuthenticated)
			},
		}).
		Then(saga.Step{
			Name: "validate",
			Do: func(ctx context.Context) error {
				log.InfoContext(ctx, "student data received",
					"step", "3/6",
					"nom", cmd.LastName,
					"prenom", cmd.FirstName,
					"email", cmd.Email,
				)
				log.InfoContext(ctx, "validating student data", "step", "4/6")
				prepared, err := backend.Store.CallProcedure(ctx, procPrepareStudent, map[string]any{
					"student_data":       cmd.Data,
					"activate_gojika":    cmd.ActivateGojika,
					"requesting_user_id": caller.ID,
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeValidation, "Validation: "+err.Error())
				}
				if site, err = siteOf(prepared); err != nil {
					return dErrors.Wrap(err, dErrors.CodeValidation, "Validation: "+err.Error())
				}
				return wf.Advance(models.StateValidated)
			},
		}).
		Then(saga.Step{
			Name: "create_identity",
			Do: func(ctx context.Context) error {
				fullName := models.DisplayName(cmd.FirstName, cmd.LastName)
				log.InfoContext(ctx, "creating identity", "step", "5/6", "nom_complet", fullName, "site", site)
				var err error
				identity, err = backend.Identity.CreateIdentity(ctx, models.NewIdentity{
					Email:     cmd.Email,
					Password:  cmd.TempPassword,
					Confirmed: true,
					Metadata: models.Metadata{
						Role:     models.RoleStudent,
						Site:     site,
						FullName: fullName,
					},
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeIdentityCreation, "Création compte: "+err.Error())
				}
				log.InfoContext(ctx, "identity created", "identity_id", identity.ID)
				return wf.Advance(models.StateIdentityCreated)
			},
			Compensate: s.deleteIdentity(backend, wf, &identity),
		}).
		Then(saga.Step{
			Name: "finalize",
			Do: func(ctx context.Context) error {
				log.InfoContext(ctx, "finalizing student", "step", "6/6")
				var err error
				record, err = backend.Store.CallProcedure(ctx, procFinalizeStudent, map[string]any{
					"auth_user_id":    identity.ID,
					"student_data":    cmd.Data,
					"site_code":       site,
					"activate_gojika": cmd.ActivateGojika,
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeFinalization, "Finalisation: "+err.Error())
				}
				return wf.Advance(models.StateFinalized)
			},
		}).
		Run(ctx)

	event.Site = site
	if caller != nil {
		event.ActorID = caller.ID
	}
	if identity != nil {
		event.SubjectID = identity.ID
	}
	s.finish(ctx, kindStudent, wf, err, event)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "student provisioned", "identity_id", identity.ID, "site", site)
	return &models.StudentResult{Record: record, TempPassword: cmd.TempPassword}, nil
}
