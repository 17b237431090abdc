package requirement_test

import (
	"testing"

	"github.com/hdeps/hdeps/internal/requirement"
)

func TestCanonicalize(t *testing.T) {
	tests := map[string]requirement.CanonicalName{
		"Flask":            "flask",
		"flask_cors":       "flask-cors",
		"flask.cors":       "flask-cors",
		"FLASK--CORS":      "flask-cors",
		"zope.interface":   "zope-interface",
		"a_b-c.d__e":       "a-b-c-d-e",
	}

	for in, want := range tests {
		if got := requirement.Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSimple(t *testing.T) {
	req, err := requirement.Parse("flask>=3.0,<4.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if req.Name != "flask" {
		t.Errorf("Name = %q, want flask", req.Name)
	}

	if req.Specifier.String() != ">=3.0,<4.0" {
		t.Errorf("Specifier = %q, want >=3.0,<4.0", req.Specifier.String())
	}

	if req.Marker != nil {
		t.Errorf("Marker = %v, want nil", req.Marker)
	}
}

func TestParseWithMarker(t *testing.T) {
	req, err := requirement.Parse(`importlib-metadata>=3.6.0; python_version < "3.10"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if req.Name != "importlib-metadata" {
		t.Errorf("Name = %q, want importlib-metadata", req.Name)
	}

	if req.Marker == nil {
		t.Fatal("Marker = nil, want non-nil")
	}
}

func TestParseWithExtras(t *testing.T) {
	req, err := requirement.Parse("requests[security,socks]>=2.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if req.Name != "requests" {
		t.Errorf("Name = %q, want requests", req.Name)
	}

	if len(req.Extras) != 2 || req.Extras[0] != "security" || req.Extras[1] != "socks" {
		t.Errorf("Extras = %v, want [security socks]", req.Extras)
	}
}

func TestParseBareName(t *testing.T) {
	req, err := requirement.Parse("robin")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if req.Name != "robin" {
		t.Errorf("Name = %q, want robin", req.Name)
	}

	if !req.Specifier.Empty() {
		t.Errorf("Specifier = %q, want empty", req.Specifier.String())
	}
}

func TestParseParenthesizedSpecifier(t *testing.T) {
	req, err := requirement.Parse("flask (>=3.0)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if req.Specifier.String() != ">=3.0" {
		t.Errorf("Specifier = %q, want >=3.0", req.Specifier.String())
	}
}

func TestParseRejectsDirectURL(t *testing.T) {
	if _, err := requirement.Parse("flask @ https://example.com/flask.whl"); err == nil {
		t.Fatal("expected error for direct URL requirement")
	}
}
