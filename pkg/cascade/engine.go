// Package cascade walks the declared reference graph when documents are
// deleted and applies the per-field delete rules: cascade, nullify, pull or
// deny.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/query"
)

// ErrReferentialIntegrity is returned when a delete is refused because a
// deny-rule dependent exists. The delete performs no mutation at all in that
// case.
var ErrReferentialIntegrity = errors.New("could not delete document: referenced by dependents")

// Logger defines the interface for logging operations within the cascade
// package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Source builds a query over the given document type on the same connection
// (and therefore the same bound session) as the triggering delete. The odm
// client wires this to its executor factory.
type Source func(meta *document.Meta) *query.Query

// Engine applies delete rules. It implements query.DeleteGuard, so plugging
// it into an executor makes every delete — including the engine's own
// recursive sub-deletes — referentially safe.
type Engine struct {
	schema *document.Schema
	source Source
	logger Logger
}

// New builds an engine over a schema's reverse reference index.
func New(schema *document.Schema, source Source, logger Logger) *Engine {
	return &Engine{schema: schema, source: source, logger: logger}
}

// OnDelete applies the declared delete rules for the documents of meta with
// the given identities. At each level of the graph, all deny checks across
// all reference fields run before any of that level's cascade/nullify/pull
// side effects; a deny found deeper in a cascade refuses the rest, and a
// transaction scope is what rolls back sub-steps already applied above it.
//
// Sub-operations run under the caller's context; inside a transaction scope
// they join the triggering delete's session, so a cascade failure rolls back
// every already-applied sub-step.
func (e *Engine) OnDelete(ctx context.Context, meta *document.Meta, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	visited := map[interface{}]struct{}{}
	return e.apply(ctx, meta, ids, visited)
}

func (e *Engine) apply(ctx context.Context, meta *document.Meta, ids []interface{}, visited map[interface{}]struct{}) error {
	referrers := e.schema.Referrers(meta.Collection)
	if len(referrers) == 0 {
		return nil
	}

	// Deny checks first, across every field, before any side effect.
	for _, ref := range referrers {
		if ref.Rule != document.Deny {
			continue
		}
		exists, err := e.dependents(ref, ids).Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("cascade: delete from %s (ids %v): %w (%s.%s refers to it)",
				meta.Collection, ids, ErrReferentialIntegrity, ref.Owner.Collection, ref.Field)
		}
	}

	// The documents being deleted are settled from the graph's point of
	// view: marking them visited before recursing keeps cyclic and
	// self-referencing graphs from looping.
	for _, id := range ids {
		visited[id] = struct{}{}
	}

	for _, ref := range referrers {
		switch ref.Rule {
		case document.Cascade:
			if err := e.cascade(ctx, ref, ids, visited); err != nil {
				return err
			}
		case document.Nullify:
			if _, err := e.dependents(ref, ids).Update(ctx, bson.M{
				"$unset": bson.M{ref.Field: 1},
			}); err != nil {
				return err
			}
		case document.Pull:
			if _, err := e.dependents(ref, ids).Update(ctx, bson.M{
				"$pull": bson.M{ref.Field: bson.M{"$id": bson.M{"$in": ids}}},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependents queries the documents of ref.Owner whose reference field points
// at any of the given identities. Links are stored in DBRef form, so the
// match goes through the $id subfield.
func (e *Engine) dependents(ref document.ReverseRef, ids []interface{}) *query.Query {
	return e.source(ref.Owner).Filter(bson.M{
		ref.Field + ".$id": bson.M{"$in": ids},
	})
}

func (e *Engine) cascade(ctx context.Context, ref document.ReverseRef, ids []interface{}, visited map[interface{}]struct{}) error {
	depQuery := e.dependents(ref, ids)
	if len(visited) > 0 {
		skip := make([]interface{}, 0, len(visited))
		for id := range visited {
			skip = append(skip, id)
		}
		depQuery = depQuery.Filter(bson.M{"_id": bson.M{"$nin": skip}})
	}

	depIDs, err := depQuery.IDs(ctx)
	if err != nil {
		return err
	}
	if len(depIDs) == 0 {
		return nil
	}

	if e.logger != nil {
		e.logger.Debug("cascading delete", nil, map[string]interface{}{
			"from":       ref.Owner.Collection,
			"field":      ref.Field,
			"dependents": len(depIDs),
		})
	}

	// Depth first: the dependents' own rules (including their deny checks)
	// apply before they are removed.
	if err := e.apply(ctx, ref.Owner, depIDs, visited); err != nil {
		return err
	}
	if _, err := depQuery.Executor().DeleteByIDs(ctx, depIDs); err != nil {
		return err
	}
	return nil
}
