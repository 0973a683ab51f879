package service

import (
	"context"
	"errors"

	"provisioner/internal/platform/lock"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/ports"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/platform/audit"
	"provisioner/pkg/platform/saga"
	"provisioner/pkg/requestcontext"
)

const (
	bootstrapLockKey = "bootstrap-users"
	profilesTable    = "profiles"
)

const (
	// MsgBootstrapRunning is returned when another bootstrap holds the lock.
	MsgBootstrapRunning = "bootstrap déjà en cours"
	// MsgBootstrapDisabled is returned when no account is configured.
	MsgBootstrapDisabled = "bootstrap désactivé: aucun compte configuré"
)

// Bootstrap creates the configured accounts strictly in order. The first
// failure aborts the run; later accounts are not attempted.
func (s *Service) Bootstrap(ctx context.Context) ([]models.BootstrapUser, error) {
	if len(s.accounts) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, MsgBootstrapDisabled)
	}

	lease, err := s.locker.Acquire(ctx, bootstrapLockKey)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, MsgBootstrapRunning)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verrou de bootstrap indisponible")
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "failed to release bootstrap lock",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}()

	backend, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]models.BootstrapUser, 0, len(s.accounts))
	for _, account := range s.accounts {
		user, err := s.bootstrapAccount(ctx, backend, account)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	s.logAudit(ctx, audit.Event{
		Action: string(audit.EventBootstrapCompleted),
		Reason: "accounts seeded",
	})
	s.logger.InfoContext(ctx, "bootstrap complete",
		"accounts", len(users),
		"request_id", requestcontext.RequestID(ctx),
	)
	return users, nil
}

func (s *Service) bootstrapAccount(ctx context.Context, backend *ports.Backend, account models.BootstrapAccount) (*models.BootstrapUser, error) {
	wf := models.NewTrustedWorkflow()
	event := audit.Event{Email: account.Email, Role: account.Role, Site: account.Site}
	user := &models.BootstrapUser{
		Role:     account.Role,
		Email:    account.Email,
		Password: account.Password,
		Status:   models.StatusSuccess,
	}

	var identity *models.Identity
	err := s.newSaga(kindBootstrap).
		Then(saga.Step{
			Name: "create_identity",
			Do: func(ctx context.Context) error {
				var err error
				identity, err = backend.Identity.CreateIdentity(ctx, models.NewIdentity{
					Email:     account.Email,
					Password:  account.Password,
					Confirmed: true,
					Metadata:  models.Metadata{Role: account.Role, Site: account.Site},
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeIdentityCreation, account.Label+": "+err.Error())
				}
				return wf.Advance(models.StateIdentityCreated)
			},
			Compensate: s.deleteIdentity(backend, wf, &identity),
		}).
		Then(saga.Step{
			Name: "update_profile",
			Do: func(ctx context.Context) error {
				err := backend.Store.UpdateRecord(ctx, profilesTable, identity.ID, map[string]any{
					"nom_complet":   account.FullName,
					"role":          account.Role,
					"site_rattache": account.Site,
				})
				if err == nil {
					return wf.Advance(models.StateFinalized)
				}
				if s.profilePolicy == PolicyBestEffort {
					s.logger.WarnContext(ctx, "profile update failed, keeping identity",
						"email", account.Email,
						"identity_id", identity.ID,
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					user.Warning = "profil non mis à jour: " + err.Error()
					return wf.Advance(models.StateFinalized)
				}
				return dErrors.Wrap(err, dErrors.CodeFinalization, account.Label+": "+err.Error())
			},
		}).
		Run(ctx)

	if identity != nil {
		event.SubjectID = identity.ID
	}
	s.finish(ctx, kindBootstrap, wf, err, event)
	if err != nil {
		return nil, err
	}
	return user, nil
}
