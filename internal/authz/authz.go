// Package authz extracts the caller's identity from request headers and
// answers capability checks. Authentication happens upstream.
package authz

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/nidhogg/skillmatch/internal/apperr"
)

// Capability names an action guarded by the policy.
type Capability string

const (
	ManageProfiles Capability = "manage_profiles"
	AssignTasks    Capability = "assign_tasks"
	ViewTeam       Capability = "view_team"
)

// Wildcard grants every capability when listed for a role.
const Wildcard Capability = "*"

const (
	HeaderUserID = "X-User-ID"
	HeaderOrgID  = "X-Org-ID"
	HeaderRoles  = "X-Roles"
)

// Identity is the caller as asserted by the gateway in front of the service.
type Identity struct {
	UserID string   `json:"user_id"`
	OrgID  string   `json:"org_id"`
	Roles  []string `json:"roles"`
}

// Anonymous reports whether no user id was supplied.
func (id Identity) Anonymous() bool { return id.UserID == "" }

// FromRequest reads the identity headers. Roles are comma separated.
func FromRequest(r *http.Request) Identity {
	id := Identity{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		OrgID:  strings.TrimSpace(r.Header.Get(HeaderOrgID)),
	}
	for _, role := range strings.Split(r.Header.Get(HeaderRoles), ",") {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			id.Roles = append(id.Roles, role)
		}
	}
	return id
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKey{}).(Identity)
	return id
}

// Middleware attaches the request identity to the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), FromRequest(r))))
	})
}

// Policy decides whether an identity holds a capability.
type Policy interface {
	Allowed(id Identity, c Capability) bool
}

// AllowAll grants everything. Used when no roles are configured.
type AllowAll struct{}

func (AllowAll) Allowed(Identity, Capability) bool { return true }

// RolePolicy maps role names to the capabilities they grant.
type RolePolicy map[string][]Capability

// NewRolePolicy builds a policy from config, lowercasing role names.
func NewRolePolicy(roles map[string][]string) RolePolicy {
	p := make(RolePolicy, len(roles))
	for role, caps := range roles {
		for _, c := range caps {
			p[strings.ToLower(role)] = append(p[strings.ToLower(role)], Capability(c))
		}
	}
	return p
}

func (p RolePolicy) Allowed(id Identity, c Capability) bool {
	for _, role := range id.Roles {
		caps := p[role]
		if slices.Contains(caps, c) || slices.Contains(caps, Wildcard) {
			return true
		}
	}
	return false
}

// Require returns a permission-denied error unless id holds c.
func Require(p Policy, id Identity, c Capability) error {
	if p.Allowed(id, c) {
		return nil
	}
	return apperr.PermissionDenied("caller %q lacks %s", id.UserID, c)
}

// RequireSelfOr passes when the caller acts on their own record, otherwise
// falls back to the capability check.
func RequireSelfOr(p Policy, id Identity, subjectID string, c Capability) error {
	if !id.Anonymous() && id.UserID == subjectID {
		return nil
	}
	return Require(p, id, c)
}
