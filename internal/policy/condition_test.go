package policy

import "testing"

func condAttrs() map[string]any {
	return map[string]any{
		"user.id":     "student-1",
		"resource":    "courses/math-101",
		"action":      "enroll",
		"session.age": float64(120),
		"roles":       []any{"student", "beta"},
		"country":     "FI",
	}
}

func TestConditionOperators(t *testing.T) {
	attrs := condAttrs()
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq match", Condition{Field: "country", Op: OpEq, Value: "FI"}, true},
		{"eq miss", Condition{Field: "country", Op: OpEq, Value: "SE"}, false},
		{"eq absent field", Condition{Field: "missing", Op: OpEq, Value: "x"}, false},
		{"neq match", Condition{Field: "country", Op: OpNeq, Value: "SE"}, true},
		{"neq absent field", Condition{Field: "missing", Op: OpNeq, Value: "x"}, true},
		{"gt", Condition{Field: "session.age", Op: OpGt, Value: float64(100)}, true},
		{"gt equal", Condition{Field: "session.age", Op: OpGt, Value: float64(120)}, false},
		{"gte equal", Condition{Field: "session.age", Op: OpGte, Value: float64(120)}, true},
		{"lt", Condition{Field: "session.age", Op: OpLt, Value: float64(121)}, true},
		{"lte", Condition{Field: "session.age", Op: OpLte, Value: float64(120)}, true},
		{"numeric eq across int and float", Condition{Field: "session.age", Op: OpEq, Value: 120}, true},
		{"in match", Condition{Field: "country", Op: OpIn, Value: []any{"FI", "SE"}}, true},
		{"in miss", Condition{Field: "country", Op: OpIn, Value: []any{"DE"}}, false},
		{"contains string", Condition{Field: "resource", Op: OpContains, Value: "math"}, true},
		{"contains list", Condition{Field: "roles", Op: OpContains, Value: "beta"}, true},
		{"contains list miss", Condition{Field: "roles", Op: OpContains, Value: "admin"}, false},
		{"exists", Condition{Field: "country", Op: OpExists}, true},
		{"exists false wanted", Condition{Field: "missing", Op: OpExists, Value: false}, true},
		{"exists missing", Condition{Field: "missing", Op: OpExists}, false},
		{"prefix", Condition{Field: "resource", Op: OpPrefix, Value: "courses/"}, true},
		{"prefix miss", Condition{Field: "resource", Op: OpPrefix, Value: "payments/"}, false},
	}
	for _, tc := range cases {
		got, err := tc.cond.eval(attrs)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestConditionMalformed(t *testing.T) {
	attrs := condAttrs()
	cases := []struct {
		name string
		cond Condition
	}{
		{"unknown op", Condition{Field: "country", Op: "matches", Value: "FI"}},
		{"gt non-numeric attr", Condition{Field: "country", Op: OpGt, Value: float64(1)}},
		{"gt non-numeric value", Condition{Field: "session.age", Op: OpGt, Value: "high"}},
		{"in non-list", Condition{Field: "country", Op: OpIn, Value: "FI"}},
		{"prefix non-string", Condition{Field: "session.age", Op: OpPrefix, Value: "1"}},
		{"empty field", Condition{Op: OpEq, Value: "x"}},
	}
	for _, tc := range cases {
		if _, err := tc.cond.eval(attrs); err == nil {
			t.Errorf("%s: expected malformed-condition error", tc.name)
		}
	}
}

func TestConditionNesting(t *testing.T) {
	attrs := condAttrs()

	all := Condition{All: []Condition{
		{Field: "country", Op: OpEq, Value: "FI"},
		{Field: "session.age", Op: OpLt, Value: float64(1000)},
	}}
	if ok, err := all.eval(attrs); err != nil || !ok {
		t.Errorf("all: got %v, %v", ok, err)
	}

	all.All = append(all.All, Condition{Field: "country", Op: OpEq, Value: "SE"})
	if ok, _ := all.eval(attrs); ok {
		t.Error("all with one failing child should not match")
	}

	anyCond := Condition{Any: []Condition{
		{Field: "country", Op: OpEq, Value: "SE"},
		{Field: "roles", Op: OpContains, Value: "beta"},
	}}
	if ok, err := anyCond.eval(attrs); err != nil || !ok {
		t.Errorf("any: got %v, %v", ok, err)
	}

	nested := Condition{All: []Condition{
		{Field: "action", Op: OpEq, Value: "enroll"},
		{Any: []Condition{
			{Field: "country", Op: OpIn, Value: []any{"FI", "SE"}},
			{Field: "roles", Op: OpContains, Value: "admin"},
		}},
	}}
	if ok, err := nested.eval(attrs); err != nil || !ok {
		t.Errorf("nested: got %v, %v", ok, err)
	}
}

func TestConditionValidateShape(t *testing.T) {
	bad := []Condition{
		{}, // nothing set
		{Field: "x", Op: OpEq, All: []Condition{{Field: "y", Op: OpEq}}}, // both leaf and branch
		{All: []Condition{{}}}, // invalid child
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	good := Condition{Any: []Condition{
		{Field: "x", Op: OpExists},
		{All: []Condition{{Field: "y", Op: OpEq, Value: 1}}},
	}}
	if err := good.Validate(); err != nil {
		t.Errorf("valid tree rejected: %v", err)
	}
}
