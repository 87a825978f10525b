// Package privacy provides authorization rules evaluated before statements
// reach the database.
//
// Rules are attached to an executor.Engine through Interceptor, and see the
// execution context of every statement: its qualified id, kind and
// parameter.
//
// # Core Concepts
//
//   - Policy: a collection of rules that determine access to statements
//   - Rule: a function that returns Allow, Deny, or Skip decisions
//   - Viewer: an interface representing the current user
//
// # Defining Policies
//
//	policy := privacy.Policies{
//	    privacy.DenyIfNoViewer(),
//	    privacy.OnStatement(privacy.HasRole("admin"), "audit.*"),
//	    privacy.Policy{
//	        Mutation: privacy.MutationPolicy{
//	            privacy.DenyKindRule(nuvatis.KindDelete),
//	            privacy.IsOwner("OwnerID"),
//	        },
//	    },
//	}
//	engine, err := executor.New(reg, executor.WithInterceptors(privacy.Interceptor(policy)))
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: grants access and stops evaluation
//   - Deny: denies access and stops evaluation
//   - Skip: continues to the next rule
//
// A policy whose rules all skip allows the statement. End a policy with
// AlwaysDenyRule to deny by default.
//
// # Context Integration
//
// The viewer is stored in context and retrieved during policy evaluation:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID: "user-123",
//	    Roles:  []string{"user"},
//	})
//	users, err := executor.List[User](ctx, engine, "users.list", nil)
//
// A decision attached with DecisionContext short-circuits Policies, which
// is useful for trusted background jobs.
//
// WithTenantVar copies the viewer's tenant into a session variable that is
// set on the connection around each statement, so PostgreSQL row-level
// security policies can read it with current_setting:
//
//	ctx = privacy.WithTenantVar(ctx, "app.tenant")
//
// # Error Handling
//
// Denied statements fail with a *nuvatis.PrivacyError that wraps the
// decision, before any SQL is rendered:
//
//	if nuvatis.IsPrivacyError(err) {
//	    // ...
//	}
package privacy
