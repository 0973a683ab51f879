package service

import (
	"context"
	"encoding/json"

	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/ports"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/platform/audit"
	"provisioner/pkg/platform/saga"
	"provisioner/pkg/requestcontext"
)

const (
	procPrepareStaff  = "prepare_staff_data"
	procFinalizeStaff = "finalize_staff_creation"
)

// ProvisionStaff creates a staff account and returns the finalize procedure
// result untouched.
func (s *Service) ProvisionStaff(ctx context.Context, cmd models.StaffCommand) (json.RawMessage, error) {
	wf := models.NewWorkflow()
	event := audit.Event{Email: cmd.Email, Role: cmd.Role, Site: cmd.Site}

	if cmd.Token == "" {
		err := dErrors.New(dErrors.CodeUnauthorized, MsgUnauthenticated)
		s.finish(ctx, kindStaff, wf, err, event)
		return nil, err
	}
	backend, err := s.open(ctx)
	if err != nil {
		s.finish(ctx, kindStaff, wf, err, event)
		return nil, err
	}

	var (
		caller   *models.Identity
		identity *models.Identity
		record   json.RawMessage
	)

	err = s.newSaga(kindStaff).
		Then(saga.Step{
			Name: "authenticate",
			Do: func(ctx context.Context) error {
				var err error
				if caller, err = s.authenticate(ctx, backend, cmd.Token); err != nil {
					return err
				}
				return wf.Advance(models.StateAuthenticated)
			},
		}).
		Then(saga.Step{
			Name: "validate",
			Do: func(ctx context.Context) error {
				_, err := backend.Store.CallProcedure(ctx, procPrepareStaff, map[string]any{
					"email":              cmd.Email,
					"nom_complet":        cmd.FullName,
					"role":               cmd.Role,
					"site":               cmd.Site,
					"requesting_user_id": caller.ID,
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
				}
				return wf.Advance(models.StateValidated)
			},
		}).
		Then(saga.Step{
			Name: "create_identity",
			Do: func(ctx context.Context) error {
				var err error
				identity, err = backend.Identity.CreateIdentity(ctx, models.NewIdentity{
					Email:     cmd.Email,
					Password:  cmd.Password,
					Confirmed: true,
					Metadata:  models.Metadata{Role: cmd.Role, Site: cmd.Site},
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeIdentityCreation, "Erreur création compte: "+err.Error())
				}
				return wf.Advance(models.StateIdentityCreated)
			},
			Compensate: s.deleteIdentity(backend, wf, &identity),
		}).
		Then(saga.Step{
			Name: "finalize",
			Do: func(ctx context.Context) error {
				var err error
				record, err = backend.Store.CallProcedure(ctx, procFinalizeStaff, map[string]any{
					"auth_user_id": identity.ID,
					"nom_complet":  cmd.FullName,
					"role_name":    cmd.Role,
					"site_name":    cmd.Site,
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeFinalization, err.Error())
				}
				return wf.Advance(models.StateFinalized)
			},
		}).
		Run(ctx)

	if caller != nil {
		event.ActorID = caller.ID
	}
	if identity != nil {
		event.SubjectID = identity.ID
	}
	s.finish(ctx, kindStaff, wf, err, event)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "staff account provisioned",
		"identity_id", identity.ID,
		"role", cmd.Role,
		"site", cmd.Site,
		"request_id", requestcontext.RequestID(ctx),
	)
	return record, nil
}

// deleteIdentity builds the compensating action for a create_identity step.
// The identity pointer is read when the compensation runs, after the step
// has filled it in.
func (s *Service) deleteIdentity(backend *ports.Backend, wf *models.Workflow, identity **models.Identity) func(context.Context) error {
	return func(ctx context.Context) error {
		created := *identity
		if created == nil {
			return nil
		}
		if err := backend.Identity.DeleteIdentity(ctx, created.ID); err != nil {
			return err
		}
		return wf.Advance(models.StateCompensated)
	}
}
