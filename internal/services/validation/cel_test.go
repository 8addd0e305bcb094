package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/asakaida/chronicle/internal/entities"
)

func newSchema(t *testing.T, rules ...*entities.Rule) *entities.Schema {
	t.Helper()
	schema, err := entities.NewSchema(
		&entities.EntityType{Name: "document", Versioned: true, Rules: rules},
		&entities.EntityType{Name: "tag"},
	)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return schema
}

func TestCELValidator_Validate(t *testing.T) {
	schema := newSchema(t,
		&entities.Rule{Name: "title_present", Expression: `has(record.title) && record.title != ""`, Message: "title is required"},
		&entities.Rule{Name: "pages_positive", Expression: `!has(record.pages) || record.pages > 0`},
		&entities.Rule{Name: "owned", Expression: `version_type == "destroy" || "project" in refs`, Message: "project is required"},
	)
	v, err := NewCELValidator(schema)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	tests := []struct {
		name     string
		record   *entities.Record
		wantRule string
	}{
		{
			name:   "all rules pass",
			record: &entities.Record{EntityType: "document", Attributes: map[string]interface{}{"title": "a", "pages": float64(3)}, Refs: map[string]int64{"project": 1}},
		},
		{
			name:     "missing title",
			record:   &entities.Record{EntityType: "document", Refs: map[string]int64{"project": 1}},
			wantRule: "title_present",
		},
		{
			name:     "json number compared with int literal",
			record:   &entities.Record{EntityType: "document", Attributes: map[string]interface{}{"title": "a", "pages": float64(0)}, Refs: map[string]int64{"project": 1}},
			wantRule: "pages_positive",
		},
		{
			name:     "missing ref",
			record:   &entities.Record{EntityType: "document", Attributes: map[string]interface{}{"title": "a"}},
			wantRule: "owned",
		},
		{
			name:   "destroy versions skip the ref rule",
			record: &entities.Record{EntityType: "document", VersionType: entities.VersionTypeDestroy, Attributes: map[string]interface{}{"title": "a"}},
		},
		{
			name:   "types without rules",
			record: &entities.Record{EntityType: "tag"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(context.Background(), tt.record)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}

			var verr *entities.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *entities.ValidationError", err)
			}
			if verr.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", verr.Rule, tt.wantRule)
			}
		})
	}

	if got := v.RuleCount("document"); got != 3 {
		t.Errorf("RuleCount() = %d, want 3", got)
	}
}

func TestCELValidator_Message(t *testing.T) {
	v, err := NewCELValidator(newSchema(t,
		&entities.Rule{Name: "named", Expression: `has(record.title)`, Message: "title is required"},
		&entities.Rule{Name: "versioned", Expression: `version > 1`},
	))
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	err = v.Validate(context.Background(), &entities.Record{EntityType: "document"})
	if err == nil || !strings.Contains(err.Error(), "title is required") {
		t.Errorf("Validate() error = %v, want the rule message", err)
	}

	err = v.Validate(context.Background(), &entities.Record{EntityType: "document", Version: 1, Attributes: map[string]interface{}{"title": "a"}})
	if err == nil || !strings.Contains(err.Error(), "version > 1") {
		t.Errorf("Validate() error = %v, want the expression as message", err)
	}
}

func TestNewCELValidator_InvalidRules(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    string
	}{
		{"syntax error", `record.title ==`, "invalid CEL expression"},
		{"not boolean", `record.title`, "must return boolean"},
		{"unknown variable", `subject.role == "admin"`, "invalid CEL expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCELValidator(newSchema(t, &entities.Rule{Name: "r", Expression: tt.expression}))
			if err == nil {
				t.Fatal("NewCELValidator() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) || !strings.Contains(err.Error(), `rule "r"`) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateExpression(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv() error = %v", err)
	}
	if err := ValidateExpression(env, `size(refs) > 0`); err != nil {
		t.Errorf("ValidateExpression() error = %v", err)
	}
	if err := ValidateExpression(env, `1 + 1`); err == nil {
		t.Error("ValidateExpression() expected error for non boolean expression")
	}
}
