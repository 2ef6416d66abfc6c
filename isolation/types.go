package isolation

import (
	"time"
)

// IsolationLevel is the per-tenant sharing policy.
type IsolationLevel string

const (
	// LevelStrict permits no sharing in either direction.
	LevelStrict IsolationLevel = "strict"

	// LevelShared permits opt-in sharing through sharing rules.
	LevelShared IsolationLevel = "shared"

	// LevelFederated permits sharing plus cross-tenant aggregate learning.
	LevelFederated IsolationLevel = "federated"
)

// Valid reports whether the level is one of the three known values.
func (l IsolationLevel) Valid() bool {
	switch l {
	case LevelStrict, LevelShared, LevelFederated:
		return true
	}
	return false
}

// Operation names the memory operations gated by the isolator.
type Operation string

const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpShare    Operation = "share"
	OpFederate Operation = "federate"
)

// accessRank orders operations: write ⊇ read, share ⊇ write, federate ⊇ share.
// A policy granting level L permits every operation with rank ≤ rank(L).
var accessRank = map[Operation]int{
	OpRead:     0,
	OpWrite:    1,
	OpShare:    2,
	OpFederate: 3,
}

// Covers reports whether a grant at this level permits op under the total
// order on access levels.
func (o Operation) Covers(op Operation) bool {
	gr, ok := accessRank[o]
	if !ok {
		return false
	}
	or, ok := accessRank[op]
	if !ok {
		return false
	}
	return or <= gr
}

// Permissions is the concrete capability set derived from an isolation
// level. Permissions never exceed what the level allows, regardless of
// policy content.
type Permissions struct {
	CanRead     bool
	CanWrite    bool
	CanShare    bool
	CanFederate bool
	Operations  map[Operation]bool
}

// PermissionsFor derives the permission set for an isolation level.
func PermissionsFor(level IsolationLevel) Permissions {
	p := Permissions{
		CanRead:    true,
		CanWrite:   true,
		Operations: map[Operation]bool{OpRead: true, OpWrite: true},
	}
	if level == LevelShared || level == LevelFederated {
		p.CanShare = true
		p.Operations[OpShare] = true
	}
	if level == LevelFederated {
		p.CanFederate = true
		p.Operations[OpFederate] = true
	}
	return p
}

// Allows reports whether the operation is in the allowed set.
func (p Permissions) Allows(op Operation) bool {
	return p.Operations[op]
}

// SensitivityLevel classifies the data touched by an operation.
type SensitivityLevel int

const (
	SensitivityLow SensitivityLevel = iota
	SensitivityMedium
	SensitivityHigh
)

func (s SensitivityLevel) String() string {
	switch s {
	case SensitivityMedium:
		return "medium"
	case SensitivityHigh:
		return "high"
	default:
		return "low"
	}
}

// AccessPolicy grants tenants access to a resource type, bounded by an
// access level and a set of restrictions that must ALL pass.
type AccessPolicy struct {
	ResourceType string
	AccessLevel  Operation // maximum operation this policy grants
	// AllowedTenants is a set of tenant ids; the single entry "*" matches
	// every tenant.
	AllowedTenants []string
	Restrictions   []Restriction
}

// allowsTenant reports whether the calling tenant is covered by the policy.
func (p AccessPolicy) allowsTenant(tenantID string) bool {
	for _, t := range p.AllowedTenants {
		if t == "*" || t == tenantID {
			return true
		}
	}
	return false
}

// ConditionKind selects one of the fixed sharing predicates. Sharing
// conditions are deliberately a small closed set, not a policy language.
type ConditionKind string

const (
	// ConditionSameProject requires source and target to belong to the
	// same project.
	ConditionSameProject ConditionKind = "same_project"

	// ConditionResourceIDPrefix requires the resource id to start with the
	// condition value.
	ConditionResourceIDPrefix ConditionKind = "resource_id_prefix"

	// ConditionTargetCanShare requires the target tenant's own isolation
	// level to permit sharing (so strict tenants can still opt out of
	// receiving).
	ConditionTargetCanShare ConditionKind = "target_can_share"
)

// ShareCondition is one predicate of a sharing rule.
type ShareCondition struct {
	Kind  ConditionKind
	Value string
}

// SharingRule lets a source tenant expose resource types to a target tenant
// when all conditions hold.
type SharingRule struct {
	TargetTenant  string // tenant id or "*"
	ResourceTypes []string
	Conditions    []ShareCondition
}

func (r SharingRule) matches(targetTenant, resourceType string) bool {
	if r.TargetTenant != "*" && r.TargetTenant != targetTenant {
		return false
	}
	for _, rt := range r.ResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// RetentionPolicy bounds how long a tenant's offloaded contexts and audit
// entries are kept.
type RetentionPolicy struct {
	// MaxContextAge is the maximum age of an offloaded context before the
	// retention sweep removes it. Zero falls back to the substrate's
	// default retention age rather than disabling the limit.
	MaxContextAge time.Duration

	// AccessFloor is the minimum access count an offloaded context must
	// have accumulated to survive a sweep once it is older than half the
	// retention age. Zero disables the floor.
	AccessFloor int
}

// TenantConfig is the immutable registration record for a tenant. Changes go
// through Isolator.UpdateTenant; destruction through DeregisterTenant only.
type TenantConfig struct {
	TenantID       string
	ProjectID      string
	IsolationLevel IsolationLevel
	Policies       []AccessPolicy // ordered; first matching resource type wins
	SharingRules   []SharingRule
	Retention      RetentionPolicy
}

// TenantContext is the derived, mutable per-tenant state owned by the
// isolator.
type TenantContext struct {
	TenantID       string
	IsolationLevel IsolationLevel
	Permissions    Permissions
	LastAccessed   time.Time
}

// AccessRequest is the operation context a validation runs against.
type AccessRequest struct {
	TenantID     string
	Operation    Operation
	ResourceType string // optional
	ResourceID   string // optional
	Sensitivity  SensitivityLevel

	// Now is the evaluation time; zero means time.Now(). Set in tests to
	// exercise time-based restrictions.
	Now time.Time

	// usage is the policy usage count, populated by the isolator before
	// restriction evaluation.
	usage int
}

// Decision is the outcome of ValidateAccess or CanShare. Exactly one audit
// entry is written per decision; Entry is a copy of it.
type Decision struct {
	Allowed bool
	Reason  string
	Err     error // sentinel kind from core when denied, nil when allowed
	Entry   AuditEntry
}
