package validation

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/asakaida/chronicle/internal/entities"
)

// Variables available in rule expressions
//
//	record       business attributes (e.g., record.title)
//	refs         outgoing references by name (e.g., refs.project)
//	version      version number of the row, 0 for unversioned types
//	version_type "" or "destroy"
const (
	varRecord      = "record"
	varRefs        = "refs"
	varVersion     = "version"
	varVersionType = "version_type"
)

type program struct {
	rule    *entities.Rule
	program cel.Program
}

// CELValidator checks rows against the CEL rules declared on their entity type
type CELValidator struct {
	env      *cel.Env
	programs map[string][]program // entity type -> compiled rules
}

// NewEnv creates the CEL environment rule expressions are compiled in
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable(varRecord, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varRefs, cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable(varVersion, cel.IntType),
		cel.Variable(varVersionType, cel.StringType),
		// JSON numbers read back as double
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewCELValidator compiles every rule of schema once
func NewCELValidator(schema *entities.Schema) (*CELValidator, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}

	v := &CELValidator{env: env, programs: make(map[string][]program)}
	for _, name := range schema.EntityTypeNames() {
		for _, rule := range schema.GetEntityType(name).Rules {
			p, err := v.compile(rule.Expression)
			if err != nil {
				return nil, fmt.Errorf("entity type %q rule %q: %w", name, rule.Name, err)
			}
			v.programs[name] = append(v.programs[name], program{rule: rule, program: p})
		}
	}
	return v, nil
}

func (v *CELValidator) compile(expression string) (cel.Program, error) {
	ast, issues := v.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}

	// Check that the expression returns a boolean
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression must return boolean, got: %s", ast.OutputType())
	}

	p, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return p, nil
}

// ValidateExpression validates a CEL rule expression without evaluating it
func ValidateExpression(env *cel.Env, expression string) error {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("CEL expression must return boolean, got: %s", ast.OutputType())
	}
	return nil
}

// Validate evaluates the rules of the record's entity type in declaration order.
// The first failing rule is reported as an *entities.ValidationError.
func (v *CELValidator) Validate(_ context.Context, r *entities.Record) error {
	programs := v.programs[r.EntityType]
	if len(programs) == 0 {
		return nil
	}

	vars := activation(r)
	for _, p := range programs {
		result, _, err := p.program.Eval(vars)
		if err != nil {
			return &entities.ValidationError{
				EntityType: r.EntityType,
				Rule:       p.rule.Name,
				Message:    fmt.Sprintf("failed to evaluate: %v", err),
			}
		}

		ok, isBool := result.Value().(bool)
		if !isBool {
			return fmt.Errorf("rule %q did not evaluate to boolean, got: %T", p.rule.Name, result.Value())
		}
		if !ok {
			msg := p.rule.Message
			if msg == "" {
				msg = p.rule.Expression
			}
			return &entities.ValidationError{EntityType: r.EntityType, Rule: p.rule.Name, Message: msg}
		}
	}
	return nil
}

// RuleCount returns the number of compiled rules of an entity type
func (v *CELValidator) RuleCount(entityType string) int {
	return len(v.programs[entityType])
}

func activation(r *entities.Record) map[string]interface{} {
	attributes := r.Attributes
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	refs := make(map[string]int64, len(r.Refs))
	for k, id := range r.Refs {
		refs[k] = id
	}
	return map[string]interface{}{
		varRecord:      attributes,
		varRefs:        refs,
		varVersion:     int64(r.Version),
		varVersionType: string(r.VersionType),
	}
}
