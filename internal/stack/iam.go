package stack

import (
	"strings"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// Principal is an entity that may assume a role.
type Principal interface {
	// PrincipalJSON returns the principal block of a trust statement.
	PrincipalJSON() map[string]any
}

// ServicePrincipal is a provider service, e.g. "scheduler.amazonaws.com".
type ServicePrincipal string

func (s ServicePrincipal) PrincipalJSON() map[string]any {
	return map[string]any{"Service": string(s)}
}

// RoleProps configures a Role.
type RoleProps struct {
	AssumedBy   Principal
	Description string
}

// Role is an assumable identity with a single inline default policy.
type Role struct {
	Construct
	resource *Resource
	policy   *Resource
	document *PolicyDocument
}

// NewRole declares a role trusted by props.AssumedBy.
func NewRole(scope Scope, id string, props RoleProps) (*Role, error) {
	if props.AssumedBy == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "role %s: a trusted principal is required", id)
	}
	r := &Role{}
	if err := attach(&r.Construct, scope, id); err != nil {
		return nil, err
	}
	var err error
	r.resource, err = NewResource(r, "Resource", TypeRole, &CfnRole{
		AssumeRolePolicyDocument: PolicyDocument{Statements: []PolicyStatement{{
			Effect:     "Allow",
			Actions:    []string{"sts:AssumeRole"},
			Principals: []Principal{props.AssumedBy},
		}}},
		Description: props.Description,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// AddToPolicy appends a statement to the role's default policy, creating the
// policy on first use.
func (r *Role) AddToPolicy(stmt PolicyStatement) error {
	if len(stmt.Actions) == 0 {
		return appErr.New(appErr.CodeInvalid, "policy statement needs at least one action")
	}
	if len(stmt.Resources) == 0 {
		return appErr.New(appErr.CodeInvalid, "policy statement needs at least one resource")
	}
	for _, a := range stmt.Actions {
		if !strings.Contains(a, ":") {
			return appErr.Newf(appErr.CodeInvalid, "action %q is not of the form service:Action", a)
		}
	}
	if stmt.Effect == "" {
		stmt.Effect = "Allow"
	}
	if r.policy == nil {
		r.document = &PolicyDocument{}
		p := &CfnPolicy{PolicyDocument: r.document, Roles: []any{r.resource.Ref()}}
		pol, err := NewResource(r, "DefaultPolicy", TypePolicy, p)
		if err != nil {
			return err
		}
		p.PolicyName = pol.LogicalID()
		r.policy = pol
	}
	r.document.Statements = append(r.document.Statements, stmt)
	return nil
}

// RoleArn references the role ARN.
func (r *Role) RoleArn() GetAtt { return r.resource.GetAtt("Arn") }

// RoleName references the role name.
func (r *Role) RoleName() Ref { return r.resource.Ref() }

// Resource returns the role resource.
func (r *Role) Resource() *Resource { return r.resource }

// Policy returns the default policy resource, or nil before AddToPolicy.
func (r *Role) Policy() *Resource { return r.policy }

// Statements returns the default policy statements.
func (r *Role) Statements() []PolicyStatement {
	if r.document == nil {
		return nil
	}
	return append([]PolicyStatement(nil), r.document.Statements...)
}
