package handlers

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
	"github.com/asakaida/chronicle/internal/services/versioning"
)

// === Shared Helper Functions for the version handler ===

// Request and response field names
const (
	fieldID               = "id"
	fieldEntityType       = "entity_type"
	fieldLineageID        = "lineage_id"
	fieldVersion          = "version"
	fieldVersionType      = "version_type"
	fieldCreatedAt        = "created_at"
	fieldAttributes       = "attributes"
	fieldRefs             = "refs"
	fieldRecords          = "records"
	fieldRelationship     = "relationship"
	fieldAllVersions      = "all_versions"
	fieldIncludeDestroyed = "include_destroyed"
)

func requireStruct(req *structpb.Struct) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	return nil
}

// idField reads a positive integral number field
func idField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f < 1 || f > math.MaxInt64 {
		return 0, fmt.Errorf("%s must be a positive integer, got %v", name, f)
	}
	return int64(f), nil
}

func stringField(req *structpb.Struct, name string) (string, error) {
	s := req.GetFields()[name].GetStringValue()
	if s == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return s, nil
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

// attributesField returns the attributes object, nil when absent
func attributesField(req *structpb.Struct) (map[string]interface{}, error) {
	v, ok := req.GetFields()[fieldAttributes]
	if !ok {
		return nil, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%s must be an object", fieldAttributes)
	}
	return s.AsMap(), nil
}

// refsField returns the refs object, nil when absent. A zero target clears a ref.
func refsField(req *structpb.Struct) (map[string]int64, error) {
	v, ok := req.GetFields()[fieldRefs]
	if !ok {
		return nil, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%s must be an object", fieldRefs)
	}

	refs := make(map[string]int64, len(s.GetFields()))
	for name, target := range s.GetFields() {
		n, ok := target.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < 0 {
			return nil, fmt.Errorf("ref %q must be a non-negative integer", name)
		}
		refs[name] = int64(n.NumberValue)
	}
	return refs, nil
}

func recordToMap(r *entities.Record) map[string]interface{} {
	refs := make(map[string]interface{}, len(r.Refs))
	for name, id := range r.Refs {
		refs[name] = id
	}
	attributes := r.Attributes
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	m := map[string]interface{}{
		fieldID:          r.ID,
		fieldEntityType:  r.EntityType,
		fieldVersion:     r.Version,
		fieldVersionType: string(r.VersionType),
		fieldAttributes:  attributes,
		fieldRefs:        refs,
	}
	if r.LineageID != 0 {
		m[fieldLineageID] = r.LineageID
	}
	if !r.CreatedAt.IsZero() {
		m[fieldCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func recordToProto(r *entities.Record) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(recordToMap(r))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode record %s: %v", r, err)
	}
	return s, nil
}

func recordsToProto(records []*entities.Record) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(records))
	for _, r := range records {
		list = append(list, recordToMap(r))
	}
	s, err := structpb.NewStruct(map[string]interface{}{fieldRecords: list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode records: %v", err)
	}
	return s, nil
}

// toStatus maps engine errors onto gRPC status codes
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, versioning.ErrReadOnlyVersion):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, versioning.ErrConcurrentVersionConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, versioning.ErrValidation),
		errors.Is(err, versioning.ErrUnknownEntityType),
		errors.Is(err, versioning.ErrUnknownRelationship),
		errors.Is(err, versioning.ErrNotVersioned),
		errors.Is(err, versioning.ErrNotPersisted):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
