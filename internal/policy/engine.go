package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/scrollverse/sentinel/internal/idgen"
	"github.com/scrollverse/sentinel/internal/logging"
	"github.com/scrollverse/sentinel/internal/metrics"
)

// Engine evaluates access requests against stored policies.
type Engine struct {
	store         Store
	defaultAction Action
}

// NewEngine wires a policy engine. The default action applies when no rule
// matches a request.
func NewEngine(store Store, defaultAction Action) *Engine {
	if !ValidAction(defaultAction) {
		defaultAction = ActionDeny
	}
	return &Engine{store: store, defaultAction: defaultAction}
}

// Create validates and persists a new policy. New policies are enabled unless
// the caller says otherwise.
func (e *Engine) Create(ctx context.Context, p *SecurityPolicy) (*SecurityPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	p.ID = idgen.WithPrefix("pol_")
	p.CreatedAt = now
	p.UpdatedAt = now
	for i := range p.Rules {
		if p.Rules[i].ID == "" {
			p.Rules[i].ID = idgen.WithPrefix("rul_")
		}
	}
	if err := e.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("policy: create: %w", err)
	}
	return p, nil
}

// Get returns one policy by ID.
func (e *Engine) Get(ctx context.Context, id string) (*SecurityPolicy, error) {
	return e.store.Get(ctx, id)
}

// List returns all policies.
func (e *Engine) List(ctx context.Context) ([]*SecurityPolicy, error) {
	return e.store.List(ctx)
}

// SetEnabled toggles a policy.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) (*SecurityPolicy, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Enabled == enabled {
		return p, nil
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now()
	if err := e.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("policy: update %s: %w", id, err)
	}
	return p, nil
}

// candidate is a rule paired with its owning policy for evaluation order.
type candidate struct {
	policy *SecurityPolicy
	rule   *Rule
}

// Evaluate decides one access request.
//
// Rules from every enabled policy covering the resource are walked in
// descending priority; the first whose condition matches wins. Rules whose
// conditions cannot be evaluated are skipped and logged. If no rule matches,
// the default action applies. If policies cannot be loaded the request is
// denied: an unreadable policy set must never fail open.
func (e *Engine) Evaluate(ctx context.Context, req *AccessRequest) *AccessDecision {
	log := logging.L(ctx)
	now := time.Now()

	policies, err := e.store.ListEnabled(ctx)
	if err != nil {
		log.Error("policy store unavailable, denying", "resource", req.Resource, "error", err)
		metrics.PolicyEvaluationsTotal.WithLabelValues("store_error").Inc()
		return &AccessDecision{Allowed: false, Action: ActionDeny, Default: true, EvaluatedAt: now}
	}

	var candidates []candidate
	for _, p := range policies {
		if !p.AppliesTo(req.Resource) {
			continue
		}
		for i := range p.Rules {
			candidates = append(candidates, candidate{policy: p, rule: &p.Rules[i]})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rule.Priority > candidates[j].rule.Priority
	})

	attrs := req.attributes()
	for _, c := range candidates {
		matched := true
		if c.rule.Condition != nil {
			var err error
			matched, err = c.rule.Condition.eval(attrs)
			if err != nil {
				log.Warn("skipping unevaluable rule",
					"policyId", c.policy.ID, "ruleId", c.rule.ID, "error", err)
				continue
			}
		}
		if !matched {
			continue
		}

		d := &AccessDecision{
			Allowed:     c.rule.Action == ActionAllow,
			Action:      c.rule.Action,
			PolicyID:    c.policy.ID,
			RuleID:      c.rule.ID,
			EvaluatedAt: now,
		}
		metrics.PolicyEvaluationsTotal.WithLabelValues(string(c.rule.Action)).Inc()
		return d
	}

	metrics.PolicyEvaluationsTotal.WithLabelValues("default_" + string(e.defaultAction)).Inc()
	return &AccessDecision{
		Allowed:     e.defaultAction == ActionAllow,
		Action:      e.defaultAction,
		Default:     true,
		EvaluatedAt: now,
	}
}
