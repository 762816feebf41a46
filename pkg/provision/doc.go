// Package provision implements an identity and access provisioning
// engine: it turns a declarative workload-identity spec list into
// managed identities, OIDC federated credentials, and role assignments.
//
// # Overview
//
// A run takes a list of WorkloadIdentitySpec values and a Config naming
// the target subscription, home resource group, and trusted CI/CD
// repository. The Scheduler advances each spec through a fixed pipeline:
//
//	Declared -> NameResolved -> Created -> (Federated)? -> RoleBound -> Active
//
// Independent specs run concurrently on a bounded worker pool; within one
// spec the stage order is strict.
//
// # Determinism and idempotence
//
// The engine is strictly additive and keeps no state of its own. Three
// invariants make re-runs and concurrent runs safe:
//
//   - Name resolution is a pure function: identical ResourceNameRequest
//     inputs always yield identical names (Resolver).
//   - Federated credential names derive deterministically from
//     (identity, kind, target), so a re-bind is an update (FederationBinder).
//   - Role assignment names are a stable hash of
//     (principal, role definition, scope), so identical grants are no-ops
//     regardless of declaration order (RoleAssignmentPlanner).
//
// Nothing is ever deleted: removing a spec key between runs produces no
// delete or revoke calls.
//
// # Providers
//
// All cloud interaction goes through the ResourceProvider interface,
// which needs only create-or-get / create-or-update / read semantics.
// Concrete providers register themselves by name (see pkg/providers);
// provider calls are retried with bounded exponential backoff, and
// "already exists" responses are treated as success.
//
// # Errors
//
// Failures carry a category (validation, provisioning, federation,
// scope_unresolved, ...) plus the spec key and stage they belong to.
// Validation and federation errors are terminal and raised before any
// provider call; provisioning errors are retried at the provider-call
// boundary; scope_unresolved means a cross-group dependency has not
// materialized yet and the run can simply be repeated later.
package provision
