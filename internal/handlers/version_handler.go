package handlers

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
	"github.com/asakaida/chronicle/internal/services/versioning"
)

// VersionHandler handles VersionService gRPC requests
type VersionHandler struct {
	UnimplementedVersionServiceServer
	engine *versioning.Engine
	logger zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler
func NewVersionHandler(engine *versioning.Engine, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		engine: engine,
		logger: logger,
	}
}

// Create handles the Create RPC
// Request: {entity_type, attributes?, refs?}
func (h *VersionHandler) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := requireStruct(req); err != nil {
		return nil, err
	}
	entityType, err := stringField(req, fieldEntityType)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	attributes, err := attributesField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	refs, err := refsField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	record := entities.NewRecord(entityType, attributes)
	for name, id := range refs {
		record.SetRef(name, id)
	}
	if _, err := h.engine.Save(ctx, record); err != nil {
		return nil, h.fail("create", err)
	}
	return recordToProto(record)
}

// Get handles the Get RPC
// Request: {id}
func (h *VersionHandler) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	return recordToProto(record)
}

// NewVersion handles the NewVersion RPC. The row named by id must be the current version.
// Request: {id, attributes?, refs?}
func (h *VersionHandler) NewVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	attributes, err := attributesField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	refs, err := refsField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	next, err := h.engine.NewVersion(ctx, record, &versioning.Overrides{Attributes: attributes, Refs: refs})
	if err != nil {
		return nil, h.fail("new_version", err)
	}
	return recordToProto(next)
}

// Destroy handles the Destroy RPC
// Request: {id}
func (h *VersionHandler) Destroy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Destroy(ctx, record); err != nil {
		return nil, h.fail("destroy", err)
	}
	return recordToProto(record)
}

// Restore handles the Restore RPC
// Request: {id}
func (h *VersionHandler) Restore(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Restore(ctx, record); err != nil {
		return nil, h.fail("restore", err)
	}
	return recordToProto(record)
}

// BecomeCurrent handles the BecomeCurrent RPC, returning the current version of the row's lineage
// Request: {id}
func (h *VersionHandler) BecomeCurrent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := h.engine.BecomeCurrent(ctx, record); err != nil {
		return nil, h.fail("become_current", err)
	}
	return recordToProto(record)
}

// History handles the History RPC, every version of the row's lineage in version order
// Request: {id}
func (h *VersionHandler) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	versions, err := h.engine.Versions(ctx, record)
	if err != nil {
		return nil, h.fail("history", err)
	}
	return recordsToProto(versions)
}

// Related handles the Related RPC
// Request: {id, relationship, all_versions?}
func (h *VersionHandler) Related(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := h.find(ctx, req)
	if err != nil {
		return nil, err
	}
	name, err := stringField(req, fieldRelationship)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	assoc, err := h.engine.Association(owner, name)
	if err != nil {
		return nil, h.fail("related", err)
	}

	var records []*entities.Record
	if boolField(req, fieldAllVersions) {
		records, err = assoc.AllVersions(ctx)
	} else {
		records, err = assoc.All(ctx)
	}
	if err != nil {
		return nil, h.fail("related", err)
	}
	return recordsToProto(records)
}

// Latest handles the Latest RPC, the current rows of an entity type.
// Soft-deleted lineages are left out unless include_destroyed is set.
// Request: {entity_type, include_destroyed?}
func (h *VersionHandler) Latest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := requireStruct(req); err != nil {
		return nil, err
	}
	entityType, err := stringField(req, fieldEntityType)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	t := h.engine.Schema().GetEntityType(entityType)
	if t == nil {
		return nil, status.Errorf(codes.InvalidArgument, "unknown entity type %q", entityType)
	}

	q := repositories.NewQuery(entityType)
	if t.Versioned {
		q = versioning.Latest(q)
		if !boolField(req, fieldIncludeDestroyed) {
			q = versioning.NotDestroyed(q)
		}
	}

	records, err := h.engine.Query(ctx, q)
	if err != nil {
		return nil, h.fail("latest", err)
	}
	return recordsToProto(records)
}

func (h *VersionHandler) find(ctx context.Context, req *structpb.Struct) (*entities.Record, error) {
	if err := requireStruct(req); err != nil {
		return nil, err
	}
	id, err := idField(req, fieldID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	record, err := h.engine.Find(ctx, id)
	if err != nil {
		return nil, h.fail("find", err)
	}
	return record, nil
}

func (h *VersionHandler) fail(op string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		h.logger.Error().Err(err).Str("op", op).Msg("request failed")
	}
	return st
}
