package privacy

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
)

// Viewer represents the authenticated user making a request.
// This interface should be implemented by application-specific user types.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier for multi-tenancy.
	// Returns empty string if not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string {
	return v.UserID
}

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string {
	return v.Roles
}

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string {
	return v.TenantID
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context. It is typically the first rule of a policy.
//
//	privacy.Policies{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the specified
// role, and skips otherwise.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of the
// specified roles, and skips otherwise.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerRoles := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(viewerRoles, role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a mutation rule that allows access if the property at
// path of the statement parameter equals the viewer's ID.
//
//	privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.IsOwner("OwnerID"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func IsOwner(path string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, ec *nuvatis.ExecContext) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		value, ok := property(ec.Param, path)
		if !ok {
			return Skip
		}
		if value == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule that denies selects without a viewer.
// Filtering rows by owner is left to the statement itself.
func OwnerQueryRule() QueryRule {
	return QueryRuleFunc(func(ctx context.Context, _ *nuvatis.ExecContext) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required for owner-filtered query")
		}
		return Skip
	})
}

// TenantRule returns a mutation rule that allows access if the property at
// path of the statement parameter equals the viewer's tenant, and denies
// it when the tenants differ.
func TenantRule(path string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, ec *nuvatis.ExecContext) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerTenant := viewer.GetTenantID()
		if viewerTenant == "" {
			return Skip
		}
		value, ok := property(ec.Param, path)
		if !ok {
			return Skip
		}
		if value == viewerTenant {
			return Allow
		}
		return Denyf("privacy: tenant mismatch")
	})
}

// TenantQueryRule returns a query rule that denies selects if no viewer or
// tenant is present.
func TenantQueryRule() QueryRule {
	return QueryRuleFunc(func(ctx context.Context, _ *nuvatis.ExecContext) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("privacy: viewer required for tenant-filtered query")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("privacy: tenant required")
		}
		return Skip
	})
}

// WithTenantVar returns a context that sets the session variable name to the
// viewer's tenant around every statement, for use by row-level security
// policies. ctx is returned unchanged if it carries no viewer or tenant.
func WithTenantVar(ctx context.Context, name string) context.Context {
	viewer := ViewerFromContext(ctx)
	if viewer == nil || viewer.GetTenantID() == "" {
		return ctx
	}
	return dsql.WithVar(ctx, name, viewer.GetTenantID())
}

// property returns the value at path of a struct or map parameter as a
// string. Scalar parameters never match.
func property(param any, path string) (string, bool) {
	v := reflect.ValueOf(param)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if k := v.Kind(); k != reflect.Struct && k != reflect.Map {
		return "", false
	}
	value, ok := binding.DefaultResolver().Resolve(param, path)
	if !ok || value == nil {
		return "", false
	}
	switch value := value.(type) {
	case string:
		return value, true
	case fmt.Stringer:
		return value.String(), true
	default:
		return fmt.Sprint(value), true
	}
}
