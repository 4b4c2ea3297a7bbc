// Package policy implements attribute-based access policies.
//
// A policy groups ordered rules under a resource pattern. Evaluation gathers
// every enabled policy applicable to the requested resource, flattens their
// rules, and walks them in descending priority: the first rule whose
// condition matches decides the outcome. Rules that cannot be evaluated are
// skipped, never treated as matches. When nothing matches the configured
// default action applies, and when policies cannot be loaded at all the
// evaluator denies.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPolicyNotFound = errors.New("policy: not found")
	ErrInvalidPolicy  = errors.New("policy: invalid policy")
)

// Action is a rule outcome.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// ValidAction reports whether a is a known action.
func ValidAction(a Action) bool {
	return a == ActionAllow || a == ActionDeny
}

// Rule is one prioritized decision within a policy. Higher priority wins;
// ties keep policy order (stable sort).
type Rule struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Action      Action     `json:"action"`
	Condition   *Condition `json:"condition,omitempty"` // nil matches everything
}

// SecurityPolicy is a named set of rules scoped to a resource pattern.
type SecurityPolicy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Resource  string    `json:"resource"` // exact, "*", or prefix like "courses/*"
	Enabled   bool      `json:"enabled"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed policies at write time so evaluation-time skips
// stay rare.
func (p *SecurityPolicy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if p.Resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidPolicy)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidPolicy)
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if !ValidAction(r.Action) {
			return fmt.Errorf("%w: rule %d has unknown action %q", ErrInvalidPolicy, i, r.Action)
		}
		if r.Condition != nil {
			if err := r.Condition.Validate(); err != nil {
				return fmt.Errorf("%w: rule %d: %v", ErrInvalidPolicy, i, err)
			}
		}
	}
	return nil
}

// AppliesTo reports whether the policy's resource pattern covers the
// requested resource.
func (p *SecurityPolicy) AppliesTo(resource string) bool {
	switch {
	case p.Resource == "*":
		return true
	case strings.HasSuffix(p.Resource, "/*"):
		return strings.HasPrefix(resource, strings.TrimSuffix(p.Resource, "*"))
	default:
		return p.Resource == resource
	}
}

// AccessRequest is one access attempt to evaluate.
type AccessRequest struct {
	UserID   string         `json:"userId"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"` // read, write, enroll, ...
	Context  map[string]any `json:"context,omitempty"`
}

// attributes flattens the request into the namespace conditions address.
// Request context keys never shadow the built-ins.
func (r *AccessRequest) attributes() map[string]any {
	attrs := make(map[string]any, len(r.Context)+3)
	for k, v := range r.Context {
		attrs[k] = v
	}
	attrs["user.id"] = r.UserID
	attrs["resource"] = r.Resource
	attrs["action"] = r.Action
	return attrs
}

// AccessDecision is the evaluation outcome.
type AccessDecision struct {
	Allowed     bool      `json:"allowed"`
	Action      Action    `json:"action"`
	PolicyID    string    `json:"policyId,omitempty"` // empty when the default applied
	RuleID      string    `json:"ruleId,omitempty"`
	Default     bool      `json:"default"` // true when no rule matched
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Store persists policies.
type Store interface {
	Create(ctx context.Context, p *SecurityPolicy) error
	Get(ctx context.Context, id string) (*SecurityPolicy, error)
	Update(ctx context.Context, p *SecurityPolicy) error
	List(ctx context.Context) ([]*SecurityPolicy, error)
	ListEnabled(ctx context.Context) ([]*SecurityPolicy, error)
}
