// Package docstore provides append-only document persistence for call
// artifacts, primarily extracted order records.
//
// The Store interface is intentionally small: documents go in, identifiers
// come out, and nothing is ever updated in place. Two implementations exist:
// a PostgreSQL/JSONB store for deployments and an in-memory store for tests
// and development.
package docstore

import (
	"context"
	"errors"
)

// ErrPersistence is wrapped around any backend write failure so callers can
// branch on persistence problems without inspecting driver errors.
var ErrPersistence = errors.New("docstore: persistence failed")

// Store is an append-only document sink.
type Store interface {
	// Append stores doc in the named collection and returns its identifier.
	Append(ctx context.Context, collection string, doc any) (string, error)

	// Ping verifies the backend is reachable. Used by readiness checks.
	Ping(ctx context.Context) error
}
