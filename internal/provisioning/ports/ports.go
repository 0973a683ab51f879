// Package ports defines the capabilities the provisioning workflow consumes.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks IdentityService,DomainStore,BackendFactory,AuditPublisher

import (
	"context"
	"encoding/json"

	"provisioner/internal/provisioning/models"
	"provisioner/pkg/platform/audit"
)

// IdentityService manages authentication identities.
type IdentityService interface {
	CreateIdentity(ctx context.Context, in models.NewIdentity) (*models.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	IdentityFromToken(ctx context.Context, token string) (*models.Identity, error)
}

// DomainStore invokes remote procedures and updates domain rows.
type DomainStore interface {
	CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	UpdateRecord(ctx context.Context, table, id string, fields map[string]any) error
}

// Backend is the pair of handles used for a single request.
type Backend struct {
	Identity IdentityService
	Store    DomainStore
}

// BackendFactory opens a fresh backend handle per request.
type BackendFactory interface {
	Open(ctx context.Context) (*Backend, error)
}

// AuditPublisher emits audit events for provisioning outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
