package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCondition marks conditions that cannot be evaluated against a
// request. The evaluator skips the owning rule rather than failing the whole
// evaluation.
var ErrMalformedCondition = errors.New("policy: malformed condition")

// Condition operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpContains = "contains"
	OpExists   = "exists"
	OpPrefix   = "prefix"
)

// Condition is one predicate over request attributes, or a boolean
// combination of them. Exactly one of {Field+Op, All, Any} must be set.
type Condition struct {
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"` // every child must match
	Any []Condition `json:"any,omitempty"` // at least one child must match
}

// Validate checks the condition tree's shape without evaluating it.
func (c *Condition) Validate() error {
	set := 0
	if c.Field != "" || c.Op != "" {
		set++
	}
	if len(c.All) > 0 {
		set++
	}
	if len(c.Any) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of field/op, all, any must be set", ErrMalformedCondition)
	}

	if len(c.All) > 0 || len(c.Any) > 0 {
		for i := range c.All {
			if err := c.All[i].Validate(); err != nil {
				return err
			}
		}
		for i := range c.Any {
			if err := c.Any[i].Validate(); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("%w: field is required", ErrMalformedCondition)
	}
	switch c.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists, OpPrefix:
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrMalformedCondition, c.Op)
	}
}

// eval evaluates the condition against request attributes. A returned error
// means the condition is malformed for this request and the owning rule must
// be skipped.
func (c *Condition) eval(attrs map[string]any) (bool, error) {
	if len(c.All) > 0 {
		for i := range c.All {
			ok, err := c.All[i].eval(attrs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			ok, err := c.Any[i].eval(attrs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if c.Field == "" {
		return false, fmt.Errorf("%w: empty field", ErrMalformedCondition)
	}

	attr, present := attrs[c.Field]
	switch c.Op {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want, nil
	case OpEq:
		return present && looseEq(attr, c.Value), nil
	case OpNeq:
		return !present || !looseEq(attr, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false, nil
		}
		a, aok := toFloat(attr)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, fmt.Errorf("%w: %s needs numeric operands for field %q", ErrMalformedCondition, c.Op, c.Field)
		}
		switch c.Op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIn:
		if !present {
			return false, nil
		}
		list, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%w: in needs a list value for field %q", ErrMalformedCondition, c.Field)
		}
		for _, v := range list {
			if looseEq(attr, v) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		if !present {
			return false, nil
		}
		switch a := attr.(type) {
		case string:
			s, ok := c.Value.(string)
			if !ok {
				return false, fmt.Errorf("%w: contains needs a string value for field %q", ErrMalformedCondition, c.Field)
			}
			return strings.Contains(a, s), nil
		case []any:
			for _, v := range a {
				if looseEq(v, c.Value) {
					return true, nil
				}
			}
			return false, nil
		case []string:
			s, ok := c.Value.(string)
			if !ok {
				return false, fmt.Errorf("%w: contains needs a string value for field %q", ErrMalformedCondition, c.Field)
			}
			for _, v := range a {
				if v == s {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("%w: contains cannot inspect field %q", ErrMalformedCondition, c.Field)
		}
	case OpPrefix:
		if !present {
			return false, nil
		}
		a, aok := attr.(string)
		s, sok := c.Value.(string)
		if !aok || !sok {
			return false, fmt.Errorf("%w: prefix needs string operands for field %q", ErrMalformedCondition, c.Field)
		}
		return strings.HasPrefix(a, s), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrMalformedCondition, c.Op)
	}
}

// looseEq compares across the types JSON decoding produces: all numbers
// compare as float64, everything else requires matching types.
func looseEq(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
