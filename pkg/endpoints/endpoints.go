// Package endpoints maps logical entity types to remote resources and
// selects the HTTP verb for a queued mutation.
package endpoints

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/oapi-codegen/runtime"

	"github.com/pvworks/floorsync/pkg/models"
	"github.com/pvworks/floorsync/pkg/syncerr"
)

// Descriptor describes the remote resource backing an entity type.
type Descriptor struct {
	ResourcePath       string
	RequiresIDOnMutate bool
	// SafetyRelevant entities never silently keep a stale local edit on a
	// concurrent-edit conflict.
	SafetyRelevant bool
}

// Request is a fully built remote call for one queue item.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Registry resolves entity types, including known aliases, to descriptors.
type Registry struct {
	byType map[string]Descriptor
}

// NewRegistry returns the registry for the manufacturing floor tables.
func NewRegistry() *Registry {
	panels := Descriptor{ResourcePath: "/api/panels", RequiresIDOnMutate: true}
	inspections := Descriptor{ResourcePath: "/api/inspections", RequiresIDOnMutate: true, SafetyRelevant: true}
	orders := Descriptor{ResourcePath: "/api/manufacturing-orders", RequiresIDOnMutate: true}
	stations := Descriptor{ResourcePath: "/api/stations", RequiresIDOnMutate: true}

	return &Registry{byType: map[string]Descriptor{
		"panels":               panels,
		"inspections":          inspections,
		"manufacturing_orders": orders,
		// legacy spelling still present in older floor clients
		"manufacturingOrders": orders,
		"stations":            stations,
	}}
}

// Resolve looks up the descriptor for an entity type.
func (r *Registry) Resolve(entityType string) (Descriptor, bool) {
	d, ok := r.byType[entityType]
	return d, ok
}

// BuildRequest resolves the entity type and selects the verb:
// create → POST base, update → PUT base/{id}, delete → DELETE base/{id}.
// Unknown tables, unknown operations and a missing remote id on
// update/delete are configuration errors; no network call is made for them.
func (r *Registry) BuildRequest(op models.Operation, entityType string, payload map[string]any) (Request, error) {
	desc, ok := r.Resolve(entityType)
	if !ok {
		return Request{}, syncerr.Configuration("unknown table %q", entityType)
	}

	switch op {
	case models.OpCreate:
		body, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return Request{Method: "POST", Path: desc.ResourcePath, Body: body}, nil

	case models.OpUpdate, models.OpDelete:
		id, ok := remoteID(payload)
		if !ok && desc.RequiresIDOnMutate {
			return Request{}, syncerr.Configuration("payload for %s on %q is missing the remote id", op, entityType)
		}
		idParam, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, id)
		if err != nil {
			return Request{}, fmt.Errorf("failed to style id parameter: %w", err)
		}
		path := desc.ResourcePath + "/" + idParam
		if op == models.OpDelete {
			return Request{Method: "DELETE", Path: path}, nil
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return Request{Method: "PUT", Path: path, Body: body}, nil

	default:
		return Request{}, syncerr.Configuration("unknown operation %q", op)
	}
}

// remoteID extracts the remote identifier from a payload document. JSON
// decoding yields float64 for numeric ids.
func remoteID(payload map[string]any) (string, bool) {
	switch v := payload["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
