package database

import (
	"errors"
	"testing"
)

var testCols = map[string]ColumnType{
	"age":    ColumnInteger,
	"score":  ColumnReal,
	"name":   ColumnText,
	"gene_A": ColumnReal,
}

func TestCompilePredicateComparisons(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "greater than",
			expr:     "age > 30",
			wantSQL:  `"age" > ?`,
			wantArgs: []interface{}{float64(30)},
		},
		{
			name:     "equality on text",
			expr:     `name == 'alice'`,
			wantSQL:  `"name" = ?`,
			wantArgs: []interface{}{"alice"},
		},
		{
			name:     "not equal",
			expr:     `name != "bob"`,
			wantSQL:  `"name" <> ?`,
			wantArgs: []interface{}{"bob"},
		},
		{
			name:     "contains",
			expr:     `name contains 'li'`,
			wantSQL:  `instr("name", ?) > 0`,
			wantArgs: []interface{}{"li"},
		},
		{
			name:     "and combination",
			expr:     "age >= 30 AND score < 0.5",
			wantSQL:  `("age" >= ? AND "score" < ?)`,
			wantArgs: []interface{}{float64(30), 0.5},
		},
		{
			name:     "or with parens",
			expr:     "(age > 60 OR score <= 0.1) AND name == 'alice'",
			wantSQL:  `(("age" > ? OR "score" <= ?) AND "name" = ?)`,
			wantArgs: []interface{}{float64(60), 0.1, "alice"},
		},
		{
			name:     "negative literal",
			expr:     "score > -1.5",
			wantSQL:  `"score" > ?`,
			wantArgs: []interface{}{-1.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs, err := CompilePredicate(tt.expr, testCols)
			if err != nil {
				t.Fatalf("CompilePredicate(%q) returned error: %v", tt.expr, err)
			}
			if gotSQL != tt.wantSQL {
				t.Errorf("SQL = %q, want %q", gotSQL, tt.wantSQL)
			}
			if len(gotArgs) != len(tt.wantArgs) {
				t.Fatalf("got %d args, want %d", len(gotArgs), len(tt.wantArgs))
			}
			for i := range gotArgs {
				if gotArgs[i] != tt.wantArgs[i] {
					t.Errorf("arg[%d] = %v, want %v", i, gotArgs[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestCompilePredicateErrors(t *testing.T) {
	tests := []struct {
		name       string
		expr       string
		wantSchema bool
	}{
		{name: "unknown column", expr: "height > 10", wantSchema: true},
		{name: "ordering on text column", expr: "name > 5", wantSchema: true},
		{name: "contains on numeric column", expr: "age contains 'x'", wantSchema: true},
		{name: "numeric literal against text column", expr: "name == 42", wantSchema: true},
		{name: "missing operator", expr: "age 30"},
		{name: "missing literal", expr: "age >"},
		{name: "unterminated string", expr: "name == 'alice"},
		{name: "unbalanced parens", expr: "(age > 30"},
		{name: "trailing garbage", expr: "age > 30 )"},
		{name: "empty expression", expr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CompilePredicate(tt.expr, testCols)
			if err == nil {
				t.Fatalf("CompilePredicate(%q) succeeded, want error", tt.expr)
			}
			var schemaErr *SchemaError
			var validationErr *ValidationError
			if tt.wantSchema {
				if !errors.As(err, &schemaErr) {
					t.Errorf("error = %v, want SchemaError", err)
				}
			} else {
				if !errors.As(err, &validationErr) {
					t.Errorf("error = %v, want ValidationError", err)
				}
			}
		})
	}
}

func TestCompilePredicateCaseInsensitiveKeywords(t *testing.T) {
	sql, args, err := CompilePredicate("age > 1 and age < 9 or name CONTAINS 'x'", testCols)
	if err != nil {
		t.Fatalf("CompilePredicate returned error: %v", err)
	}
	want := `(("age" > ? AND "age" < ?) OR instr("name", ?) > 0)`
	if sql != want {
		t.Errorf("SQL = %q, want %q", sql, want)
	}
	if len(args) != 3 {
		t.Errorf("got %d args, want 3", len(args))
	}
}
