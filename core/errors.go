package core

import "errors"

// Error taxonomy for the substrate. Policy errors (ErrPermissionDenied,
// ErrResourceAccessDenied, ErrIsolationViolation) are deterministic denials
// and are never retried. Collaborator errors (ErrStorageUnavailable,
// ErrEmbeddingUnavailable) carry the underlying failure via wrapping.
var (
	// ErrInvalidConfig indicates a tenant configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid tenant config")

	// ErrDuplicateTenant indicates a registration for an already-known tenant.
	ErrDuplicateTenant = errors.New("tenant already registered")

	// ErrTenantNotFound indicates an operation against an unknown tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrPermissionDenied indicates the operation is outside the tenant's
	// allowed-operation set for its isolation level.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrResourceAccessDenied indicates a resource policy or one of its
	// restrictions rejected the operation.
	ErrResourceAccessDenied = errors.New("resource access denied")

	// ErrIsolationViolation indicates the operation would exceed what the
	// tenant's isolation level allows, regardless of policy content.
	ErrIsolationViolation = errors.New("isolation violation")

	// ErrNotFound indicates a missing offloaded context or stored record.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable indicates the storage or summarization
	// collaborator failed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEmbeddingUnavailable indicates the embedding collaborator failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrUnimplemented marks a path whose backing integration is not wired
	// up yet. Distinct from an empty result so callers can tell "found
	// nothing" from "not built".
	ErrUnimplemented = errors.New("not implemented")
)
