package agent

import (
	"strings"
	"testing"
)

func TestValidateCodeAllowsPlainAnalysis(t *testing.T) {
	v := NewCodeValidator()

	snippets := []string{
		"result = df['gene_A'].mean()",
		"result = df[df['age'] > 40].shape[0]",
		"result = df.groupby('region')['amount'].sum().to_dict()",
		"x = df.describe()\nresult = x['age']['mean']",
	}
	for _, code := range snippets {
		res := v.ValidateCode(code)
		if !res.Valid {
			t.Errorf("ValidateCode(%q) rejected: %v", code, res.Errors)
		}
	}
}

func TestValidateCodeRejectsImports(t *testing.T) {
	v := NewCodeValidator()

	res := v.ValidateCode("import os\nresult = os.listdir('.')")
	if res.Valid {
		t.Fatal("import os passed validation")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "disallowed name") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want a disallowed-name entry", res.Errors)
	}
}

func TestValidateCodeDenyList(t *testing.T) {
	v := NewCodeValidator()

	rejected := []string{
		"from os import path",
		"__import__('os')",
		"eval('1+1')",
		"exec('x = 1')",
		"open('/etc/passwd')",
		"df.to_csv('out.csv')",
		"().__class__.__bases__",
		"getattr(df, 'to_pickle')",
		"globals()['df']",
	}
	for _, code := range rejected {
		if res := v.ValidateCode(code); res.Valid {
			t.Errorf("ValidateCode(%q) passed, want rejection", code)
		}
	}
}

func TestValidateCodeEmptyAndOversized(t *testing.T) {
	v := NewCodeValidator()

	if res := v.ValidateCode("   \n  "); res.Valid {
		t.Error("blank code passed validation")
	}

	v.SetMaxCodeLength(10)
	if res := v.ValidateCode("result = df['a'].sum()"); res.Valid {
		t.Error("oversized code passed validation")
	}
}

func TestValidateCodeDoesNotFlagSubstrings(t *testing.T) {
	v := NewCodeValidator()

	// Column names that merely contain a keyword are fine.
	res := v.ValidateCode("result = df['important_flag'].sum()")
	if !res.Valid {
		t.Errorf("substring false positive: %v", res.Errors)
	}
}
