// Package concepts dereferences subject concept URIs into labelled
// concepts. Every solver failure surfaces as a DereferencingError so
// the store can fall back to a stub concept and a later run can retry.
package concepts

import (
	"context"
	"fmt"

	"github.com/crisref/harvest-core/internal/core"
)

// Solver resolves one concept URI into a concept carrying its labels.
type Solver interface {
	// CanSolve reports whether the solver understands the URI scheme.
	CanSolve(uri string) bool
	Dereference(ctx context.Context, uri string) (*core.Concept, error)
}

// DereferencingError wraps any failure to resolve a concept URI:
// transport errors, bad payloads, unknown schemes. Callers treat it as
// a signal to store a stub, never as a reason to fail the reference.
type DereferencingError struct {
	URI string
	Err error
}

func (e *DereferencingError) Error() string {
	return fmt.Sprintf("failed to dereference concept %s: %v", e.URI, e.Err)
}

func (e *DereferencingError) Unwrap() error { return e.Err }

// Registry dispatches a URI to the first solver that understands it.
type Registry struct {
	solvers   []Solver
	languages []string
}

// NewRegistry builds a registry over the given solvers, consulted in
// order. The languages list orders label languages by preference when
// a resolved concept carries labels in several languages.
func NewRegistry(languages []string, solvers ...Solver) *Registry {
	return &Registry{solvers: solvers, languages: languages}
}

// Dereference resolves the URI through the first matching solver.
func (r *Registry) Dereference(ctx context.Context, uri string) (*core.Concept, error) {
	for _, solver := range r.solvers {
		if !solver.CanSolve(uri) {
			continue
		}
		concept, err := solver.Dereference(ctx, uri)
		if err != nil {
			return nil, err
		}
		concept.MarkPreferred(r.languages)
		return concept, nil
	}
	return nil, &DereferencingError{URI: uri, Err: fmt.Errorf("no solver for uri")}
}
