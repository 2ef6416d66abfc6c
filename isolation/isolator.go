package isolation

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/locilabs/loci/core"
)

// Options configures an Isolator.
type Options struct {
	// FederationEnabled gates registration at LevelFederated and the
	// federate operation globally.
	FederationEnabled bool `yaml:"federation_enabled"`

	// AuditCap bounds the audit trail (0 = DefaultAuditCap).
	AuditCap int `yaml:"audit_cap"`
}

// Isolator is the single authority for "may this happen" and the single
// source of the audit trail. Every call to ValidateAccess or CanShare writes
// exactly one audit entry, whether the outcome is allow or deny.
//
// The tenant table is owned state, not a process-wide singleton, so multiple
// isolated instances can run concurrently without cross-talk.
type Isolator struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState
	trail   *Trail
	opts    Options
}

type tenantState struct {
	config TenantConfig
	ctx    TenantContext
	// usage counts grants per resource type, feeding UsageLimit restrictions
	usage map[string]int
}

// New creates an isolator with its own tenant table and audit trail.
func New(opts Options) *Isolator {
	return &Isolator{
		tenants: make(map[string]*tenantState),
		trail:   NewTrail(opts.AuditCap),
		opts:    opts,
	}
}

// RegisterTenant stores the config, derives permissions, creates the tenant
// context, and audits the registration itself.
func (iso *Isolator) RegisterTenant(cfg TenantConfig) error {
	if cfg.TenantID == "" || cfg.ProjectID == "" {
		return fmt.Errorf("%w: tenant id and project id are required", core.ErrInvalidConfig)
	}
	if !cfg.IsolationLevel.Valid() {
		return fmt.Errorf("%w: unknown isolation level %q", core.ErrInvalidConfig, cfg.IsolationLevel)
	}
	if cfg.IsolationLevel == LevelFederated && !iso.opts.FederationEnabled {
		return fmt.Errorf("%w: federated isolation requires federation to be enabled", core.ErrInvalidConfig)
	}

	iso.mu.Lock()
	defer iso.mu.Unlock()

	if _, exists := iso.tenants[cfg.TenantID]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateTenant, cfg.TenantID)
	}

	iso.tenants[cfg.TenantID] = &tenantState{
		config: cfg,
		ctx: TenantContext{
			TenantID:       cfg.TenantID,
			IsolationLevel: cfg.IsolationLevel,
			Permissions:    PermissionsFor(cfg.IsolationLevel),
			LastAccessed:   time.Now(),
		},
		usage: make(map[string]int),
	}

	iso.trail.Append(AuditEntry{
		TenantID:  cfg.TenantID,
		Operation: "register",
		Success:   true,
		Details:   map[string]string{"isolation_level": string(cfg.IsolationLevel), "project_id": cfg.ProjectID},
	})
	log.Printf("[ISOLATION] Registered tenant %s (project=%s, level=%s)",
		cfg.TenantID, cfg.ProjectID, cfg.IsolationLevel)
	return nil
}

// UpdateTenant is the explicit update path for an otherwise immutable
// config. Permissions are rederived; the tenant id cannot change.
func (iso *Isolator) UpdateTenant(cfg TenantConfig) error {
	if !cfg.IsolationLevel.Valid() {
		return fmt.Errorf("%w: unknown isolation level %q", core.ErrInvalidConfig, cfg.IsolationLevel)
	}
	if cfg.IsolationLevel == LevelFederated && !iso.opts.FederationEnabled {
		return fmt.Errorf("%w: federated isolation requires federation to be enabled", core.ErrInvalidConfig)
	}

	iso.mu.Lock()
	defer iso.mu.Unlock()

	state, ok := iso.tenants[cfg.TenantID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTenantNotFound, cfg.TenantID)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = state.config.ProjectID
	}
	state.config = cfg
	state.ctx.IsolationLevel = cfg.IsolationLevel
	state.ctx.Permissions = PermissionsFor(cfg.IsolationLevel)

	iso.trail.Append(AuditEntry{
		TenantID:  cfg.TenantID,
		Operation: "update",
		Success:   true,
		Details:   map[string]string{"isolation_level": string(cfg.IsolationLevel)},
	})
	return nil
}

// DeregisterTenant removes the tenant and purges its audit trail. Offloaded
// context purging is the coordinator's job, driven off this call.
func (iso *Isolator) DeregisterTenant(tenantID string) error {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	if _, ok := iso.tenants[tenantID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrTenantNotFound, tenantID)
	}
	delete(iso.tenants, tenantID)
	purged := iso.trail.PurgeTenant(tenantID)
	log.Printf("[ISOLATION] Deregistered tenant %s (purged %d audit entries)", tenantID, purged)
	return nil
}

// ValidateAccess decides whether the operation may happen.
//
// Check order (must not be changed), short-circuiting on first failure, each
// branch writing exactly one audit entry:
//  1. Tenant existence
//  2. Operation within the level-derived allowed set
//  3. Resource policy: match, tenant allowlist, access-level order, all restrictions
//  4. Isolation-level re-check against the specific operation
func (iso *Isolator) ValidateAccess(req AccessRequest) Decision {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	state, ok := iso.tenants[req.TenantID]
	if !ok {
		return iso.deny(req, core.ErrTenantNotFound, fmt.Sprintf("tenant %q not registered", req.TenantID))
	}

	// Step 2: level-derived operation set
	if !state.ctx.Permissions.Allows(req.Operation) {
		return iso.deny(req, core.ErrPermissionDenied,
			fmt.Sprintf("operation %s not permitted at isolation level %s", req.Operation, state.ctx.IsolationLevel))
	}

	// Step 3: resource policy, when a resource type is named
	if req.ResourceType != "" {
		policy, found := findPolicy(state.config.Policies, req.ResourceType)
		if !found {
			return iso.deny(req, core.ErrResourceAccessDenied,
				fmt.Sprintf("no access policy for resource type %q", req.ResourceType))
		}
		if !policy.allowsTenant(req.TenantID) {
			return iso.deny(req, core.ErrResourceAccessDenied,
				fmt.Sprintf("tenant %s not in allowed set for %q", req.TenantID, req.ResourceType))
		}
		if !policy.AccessLevel.Covers(req.Operation) {
			return iso.deny(req, core.ErrResourceAccessDenied,
				fmt.Sprintf("operation %s exceeds policy access level %s", req.Operation, policy.AccessLevel))
		}
		req.usage = state.usage[req.ResourceType]
		for _, r := range policy.Restrictions {
			if ok, why := r.Evaluate(req); !ok {
				return iso.deny(req, core.ErrResourceAccessDenied, why)
			}
		}
	}

	// Step 4: isolation-level constraints re-checked against the specific
	// operation. A stray policy granting share to a strict tenant must not
	// win; permissions never exceed the level.
	if violatesLevel(state.ctx.IsolationLevel, req.Operation) {
		return iso.deny(req, core.ErrIsolationViolation,
			fmt.Sprintf("isolation level %s never permits %s", state.ctx.IsolationLevel, req.Operation))
	}

	// Usage is consumed only by a granted operation; every denial above,
	// including the level re-check, leaves the slot untouched.
	if req.ResourceType != "" {
		state.usage[req.ResourceType]++
	}

	state.ctx.LastAccessed = time.Now()
	entry := iso.trail.Append(AuditEntry{
		TenantID:     req.TenantID,
		Operation:    string(req.Operation),
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Success:      true,
	})
	return Decision{Allowed: true, Entry: entry}
}

// CanShare decides whether sourceTenant may share resourceType with
// targetTenant under the source's sharing rules. Both tenants must exist.
func (iso *Isolator) CanShare(sourceTenant, targetTenant, resourceType, resourceID string) Decision {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	req := AccessRequest{
		TenantID:     sourceTenant,
		Operation:    OpShare,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}

	source, ok := iso.tenants[sourceTenant]
	if !ok {
		return iso.deny(req, core.ErrTenantNotFound, fmt.Sprintf("source tenant %q not registered", sourceTenant))
	}
	target, ok := iso.tenants[targetTenant]
	if !ok {
		return iso.deny(req, core.ErrTenantNotFound, fmt.Sprintf("target tenant %q not registered", targetTenant))
	}

	if !source.ctx.Permissions.CanShare {
		return iso.deny(req, core.ErrIsolationViolation,
			fmt.Sprintf("isolation level %s never permits share", source.ctx.IsolationLevel))
	}

	rule, found := findRule(source.config.SharingRules, targetTenant, resourceType)
	if !found {
		return iso.deny(req, core.ErrResourceAccessDenied,
			fmt.Sprintf("no sharing rule from %s to %s for %q", sourceTenant, targetTenant, resourceType))
	}

	for _, cond := range rule.Conditions {
		if ok, why := evaluateCondition(cond, source, target, resourceID); !ok {
			return iso.deny(req, core.ErrResourceAccessDenied, why)
		}
	}

	source.ctx.LastAccessed = time.Now()
	entry := iso.trail.Append(AuditEntry{
		TenantID:     sourceTenant,
		Operation:    "share_check",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      true,
		Details:      map[string]string{"target_tenant": targetTenant},
	})
	return Decision{Allowed: true, Entry: entry}
}

// AuditLog returns the most recent limit entries for the tenant, newest
// first.
func (iso *Isolator) AuditLog(tenantID string, limit int) []AuditEntry {
	return iso.trail.ForTenant(tenantID, limit)
}

// TenantExists reports whether the tenant is registered.
func (iso *Isolator) TenantExists(tenantID string) bool {
	iso.mu.RLock()
	defer iso.mu.RUnlock()
	_, ok := iso.tenants[tenantID]
	return ok
}

// TenantIDs lists all registered tenants. Used by maintenance and the
// federated candidate pool.
func (iso *Isolator) TenantIDs() []string {
	iso.mu.RLock()
	defer iso.mu.RUnlock()
	ids := make([]string, 0, len(iso.tenants))
	for id := range iso.tenants {
		ids = append(ids, id)
	}
	return ids
}

// TenantCount returns the number of registered tenants.
func (iso *Isolator) TenantCount() int {
	iso.mu.RLock()
	defer iso.mu.RUnlock()
	return len(iso.tenants)
}

// Retention returns the tenant's retention policy.
func (iso *Isolator) Retention(tenantID string) (RetentionPolicy, error) {
	iso.mu.RLock()
	defer iso.mu.RUnlock()
	state, ok := iso.tenants[tenantID]
	if !ok {
		return RetentionPolicy{}, fmt.Errorf("%w: %s", core.ErrTenantNotFound, tenantID)
	}
	return state.config.Retention, nil
}

// Context returns a copy of the tenant's derived context.
func (iso *Isolator) Context(tenantID string) (TenantContext, error) {
	iso.mu.RLock()
	defer iso.mu.RUnlock()
	state, ok := iso.tenants[tenantID]
	if !ok {
		return TenantContext{}, fmt.Errorf("%w: %s", core.ErrTenantNotFound, tenantID)
	}
	ctx := state.ctx
	ctx.Permissions = PermissionsFor(ctx.IsolationLevel) // copy, not the live map
	return ctx, nil
}

// deny writes the single audit entry for a denial and builds the decision.
// Callers hold iso.mu.
func (iso *Isolator) deny(req AccessRequest, kind error, reason string) Decision {
	entry := iso.trail.Append(AuditEntry{
		TenantID:     req.TenantID,
		Operation:    string(req.Operation),
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Success:      false,
		Details:      map[string]string{"reason": reason},
	})
	log.Printf("[ISOLATION] Denied %s for tenant %s: %s", req.Operation, req.TenantID, reason)
	return Decision{Allowed: false, Reason: reason, Err: kind, Entry: entry}
}

func findPolicy(policies []AccessPolicy, resourceType string) (AccessPolicy, bool) {
	for _, p := range policies {
		if p.ResourceType == resourceType {
			return p, true
		}
	}
	return AccessPolicy{}, false
}

func findRule(rules []SharingRule, targetTenant, resourceType string) (SharingRule, bool) {
	for _, r := range rules {
		if r.matches(targetTenant, resourceType) {
			return r, true
		}
	}
	return SharingRule{}, false
}

// violatesLevel re-checks the operation against the isolation level itself.
func violatesLevel(level IsolationLevel, op Operation) bool {
	switch level {
	case LevelStrict:
		return op == OpShare || op == OpFederate
	case LevelShared:
		return op == OpFederate
	}
	return false
}

func evaluateCondition(cond ShareCondition, source, target *tenantState, resourceID string) (bool, string) {
	switch cond.Kind {
	case ConditionSameProject:
		if source.config.ProjectID != target.config.ProjectID {
			return false, fmt.Sprintf("projects differ (%s vs %s)", source.config.ProjectID, target.config.ProjectID)
		}
	case ConditionResourceIDPrefix:
		if resourceID == "" || len(resourceID) < len(cond.Value) || resourceID[:len(cond.Value)] != cond.Value {
			return false, fmt.Sprintf("resource id does not match prefix %q", cond.Value)
		}
	case ConditionTargetCanShare:
		if !target.ctx.Permissions.CanShare {
			return false, fmt.Sprintf("target tenant %s does not accept shared data", target.config.TenantID)
		}
	default:
		return false, fmt.Sprintf("unknown sharing condition %q", cond.Kind)
	}
	return true, ""
}
