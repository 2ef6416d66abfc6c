// Package core defines the shared types and collaborator interfaces for the
// loci memory substrate.
//
// The substrate serves many independent agent tenants (one per project) that
// must never observe each other's experience data by default. Three
// components compose over these types:
//   - isolation: the single authority for "may this happen" plus the audit trail
//   - offload: compresses task context out of the working set, retrievably
//   - coordinator: the façade agents call; isolation check → offload → storage
//
// Collaborators (storage, embedding, summarization) are narrow interfaces
// injected into the components, never constructed internally, so tests can
// substitute in-memory fakes.
package core
