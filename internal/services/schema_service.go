package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/services/validation"
)

// SchemaServiceInterface defines the interface for schema description handling
type SchemaServiceInterface interface {
	ParseSchema(data []byte) (*entities.Schema, error)
	LoadSchema(path string) (*entities.Schema, error)
	ValidateSchema(data []byte) error
	CurrentSchema() *entities.Schema
}

// SchemaDocument is the YAML schema description
//
//	entity_types:
//	  - name: project
//	    versioned: true
//	    relationships:
//	      - {name: documents, target: document, foreign_key: project, cascade_destroy: true}
//	      - {name: companies, target: company, through: project_companies, source: company}
//	    rules:
//	      - {name: named, expression: 'has(record.name)', message: name is required}
type SchemaDocument struct {
	EntityTypes []EntityTypeDocument `yaml:"entity_types"`
}

// EntityTypeDocument describes one entity type
type EntityTypeDocument struct {
	Name          string                 `yaml:"name"`
	Versioned     bool                   `yaml:"versioned"`
	Relationships []RelationshipDocument `yaml:"relationships"`
	Rules         []RuleDocument         `yaml:"rules"`
}

// RelationshipDocument describes one relationship.
// A relationship with Through set is a through relationship, otherwise direct.
type RelationshipDocument struct {
	Name           string `yaml:"name"`
	Target         string `yaml:"target"`
	Cardinality    string `yaml:"cardinality"` // to_one or to_many (default)
	ForeignKey     string `yaml:"foreign_key"`
	Through        string `yaml:"through"`
	Source         string `yaml:"source"`
	Policy         string `yaml:"policy"` // auto (default), versioned or ignored
	CascadeDestroy bool   `yaml:"cascade_destroy"`
}

// RuleDocument describes one CEL validation rule
type RuleDocument struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

// SchemaService turns schema descriptions into validated entities.Schema values
type SchemaService struct {
	env *cel.Env

	mu      sync.RWMutex
	current *entities.Schema
}

// NewSchemaService creates a new SchemaService
func NewSchemaService() (*SchemaService, error) {
	env, err := validation.NewEnv()
	if err != nil {
		return nil, err
	}
	return &SchemaService{env: env}, nil
}

// ParseSchema parses and validates a YAML schema description
func (s *SchemaService) ParseSchema(data []byte) (*entities.Schema, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("schema description is required")
	}

	var doc SchemaDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(doc.EntityTypes) == 0 {
		return nil, fmt.Errorf("schema declares no entity types")
	}

	types := make([]*entities.EntityType, 0, len(doc.EntityTypes))
	for _, td := range doc.EntityTypes {
		t, err := s.convertEntityType(td)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}

	schema, err := entities.NewSchema(types...)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return schema, nil
}

func (s *SchemaService) convertEntityType(td EntityTypeDocument) (*entities.EntityType, error) {
	t := &entities.EntityType{Name: td.Name, Versioned: td.Versioned}

	for _, rd := range td.Relationships {
		rel := &entities.Relationship{
			Name:           rd.Name,
			Target:         rd.Target,
			Cardinality:    entities.Cardinality(rd.Cardinality),
			Directness:     entities.Direct,
			ForeignKey:     rd.ForeignKey,
			Through:        rd.Through,
			Source:         rd.Source,
			Policy:         entities.Policy(rd.Policy),
			CascadeDestroy: rd.CascadeDestroy,
		}
		if rel.Cardinality == "" {
			rel.Cardinality = entities.ToMany
		}
		if rd.Policy == "auto" {
			rel.Policy = entities.PolicyAuto
		}
		if rd.Through != "" {
			rel.Directness = entities.Through
		}
		t.Relationships = append(t.Relationships, rel)
	}

	for _, rd := range td.Rules {
		if err := validation.ValidateExpression(s.env, rd.Expression); err != nil {
			return nil, fmt.Errorf("entity type %q rule %q: %w", td.Name, rd.Name, err)
		}
		t.Rules = append(t.Rules, &entities.Rule{Name: rd.Name, Expression: rd.Expression, Message: rd.Message})
	}

	return t, nil
}

// LoadSchema reads a schema description file and makes it the current schema
func (s *SchemaService) LoadSchema(path string) (*entities.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	schema, err := s.ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s.mu.Lock()
	s.current = schema
	s.mu.Unlock()

	return schema, nil
}

// ValidateSchema validates a schema description without loading it
func (s *SchemaService) ValidateSchema(data []byte) error {
	_, err := s.ParseSchema(data)
	return err
}

// CurrentSchema returns the last loaded schema, or nil
func (s *SchemaService) CurrentSchema() *entities.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
