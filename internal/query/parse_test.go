package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Node
	}{
		{
			name:  "blank input",
			input: "   ",
			want:  nil,
		},
		{
			name:  "single comparison",
			input: `name eq "Blue"`,
			want:  Comparison{Field: "name", Op: OpEq, Value: "Blue"},
		},
		{
			name:  "version prefix",
			input: `v1: qty gt 5`,
			want:  Comparison{Field: "qty", Op: OpGt, Value: int64(5)},
		},
		{
			name:  "symbolic operator and float",
			input: `price <= 2.75`,
			want:  Comparison{Field: "price", Op: OpLte, Value: 2.75},
		},
		{
			name:  "and binds tighter than or",
			input: `a eq 1 or b eq 2 and c eq 3`,
			want: Logical{Kind: Or, Operands: []Node{
				Comparison{Field: "a", Op: OpEq, Value: int64(1)},
				Logical{Kind: And, Operands: []Node{
					Comparison{Field: "b", Op: OpEq, Value: int64(2)},
					Comparison{Field: "c", Op: OpEq, Value: int64(3)},
				}},
			}},
		},
		{
			name:  "parentheses and not",
			input: `NOT (inStock eq true OR qty lt 0)`,
			want: Not{Operand: Logical{Kind: Or, Operands: []Node{
				Comparison{Field: "inStock", Op: OpEq, Value: true},
				Comparison{Field: "qty", Op: OpLt, Value: int64(0)},
			}}},
		},
		{
			name:  "list literal with null",
			input: `name in ['a', "b", null]`,
			want:  Comparison{Field: "name", Op: OpIn, Value: []any{"a", "b", nil}},
		},
		{
			name:  "case-insensitive operator",
			input: `name STARTSWITH 'Bl'`,
			want:  Comparison{Field: "name", Op: OpStartsWith, Value: "Bl"},
		},
		{
			name:  "escaped quote",
			input: `name eq 'it\'s'`,
			want:  Comparison{Field: "name", Op: OpEq, Value: "it's"},
		},
		{
			name:  "negative number",
			input: `qty gte -3`,
			want:  Comparison{Field: "qty", Op: OpGte, Value: int64(-3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.input)
			if err != nil {
				t.Fatalf("ParseFilter() error = %v, want nil", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{name: "unsupported version", input: "v2: a eq 1", wantMsg: "unsupported filter grammar version v2"},
		{name: "missing value", input: "a eq", wantMsg: "expected value"},
		{name: "unknown operator", input: "a like 'x'", wantMsg: `unknown operator "like"`},
		{name: "unterminated string", input: "a eq 'x", wantMsg: "unterminated string"},
		{name: "unbalanced paren", input: "(a eq 1", wantMsg: `expected ")"`},
		{name: "trailing tokens", input: "a eq 1 b", wantMsg: `unexpected "b"`},
		{name: "bang alone", input: "a ! 1", wantMsg: `unexpected "!"`},
		{name: "bad list", input: "a in [1 2]", wantMsg: `expected "," or "]"`},
		{name: "stray character", input: "a eq 1 ; drop", wantMsg: `unexpected ";"`},
		{name: "too deep", input: strings.Repeat("not ", MaxFilterDepth+1) + "a eq 1", wantMsg: "nesting deeper than"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.input)
			if err == nil {
				t.Fatalf("ParseFilter() error = nil, want %q", tt.wantMsg)
			}
			if !errors.Is(err, types.ErrValidation) {
				t.Errorf("ParseFilter() error kind = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("ParseFilter() error = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDecodeFilter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Node
	}{
		{
			name:  "null",
			input: "null",
			want:  nil,
		},
		{
			name:  "comparison",
			input: `{"field":"qty","op":"gte","value":10}`,
			want:  Comparison{Field: "qty", Op: OpGte, Value: int64(10)},
		},
		{
			name:  "nested logical",
			input: `{"and":[{"field":"name","op":"contains","value":"Wid"},{"not":{"field":"price","op":"gt","value":9.5}}]}`,
			want: Logical{Kind: And, Operands: []Node{
				Comparison{Field: "name", Op: OpContains, Value: "Wid"},
				Not{Operand: Comparison{Field: "price", Op: OpGt, Value: 9.5}},
			}},
		},
		{
			name:  "list values",
			input: `{"field":"qty","op":"in","value":[1,2.5]}`,
			want:  Comparison{Field: "qty", Op: OpIn, Value: []any{int64(1), 2.5}},
		},
		{
			name:  "string uses text grammar",
			input: `"qty lt 3"`,
			want:  Comparison{Field: "qty", Op: OpLt, Value: int64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFilter([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeFilter() error = %v, want nil", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeFilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{name: "malformed json", input: `{"field":`, wantMsg: "invalid filter"},
		{name: "array root", input: `[1]`, wantMsg: "expected object or string"},
		{name: "missing field", input: `{"op":"eq","value":1}`, wantMsg: `requires "field"`},
		{name: "unknown op", input: `{"field":"a","op":"like","value":1}`, wantMsg: `unknown operator "like"`},
		{name: "extra key", input: `{"field":"a","op":"eq","value":1,"x":2}`, wantMsg: `unexpected key "x"`},
		{name: "mixed logical", input: `{"and":[],"field":"a"}`, wantMsg: `"and" must be the only key`},
		{name: "or not array", input: `{"or":{}}`, wantMsg: `"or" expects an array`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFilter([]byte(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("DecodeFilter() error = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}
