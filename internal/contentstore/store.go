// Package contentstore consumes the content platform's document API: point
// and batch fetch, filtered listing, document history, and atomic
// multi-document transactions with optimistic-concurrency patches. The
// orchestrator depends on these guarantees; it does not reimplement them.
package contentstore

import (
	"context"
	"errors"

	"phrasebridge/internal/domain"
)

// Document is a decoded content-store document. Conventions: `_id`, `_rev`,
// `_type` bookkeeping fields; draft state under the `drafts.` ID prefix.
type Document = map[string]any

// Patch mutates one document. When IfRevisionID is set the patch only
// applies if the document's revision is still exactly that value; otherwise
// the whole transaction fails with a revision mismatch.
type Patch struct {
	ID           string
	IfRevisionID string
	Set          map[string]any
	SetIfMissing map[string]any
	Unset        []string
	Insert       *Insert
}

// Insert appends or prepends items at an array path. Path uses the
// canonical dotted form with a trailing selector, e.g.
// "phraseMeta.translations[-1]" to append after the last element.
type Insert struct {
	After  string
	Before string
	Items  []any
}

// Mutation is one step of a transaction; exactly one field is set.
type Mutation struct {
	CreateOrReplace   Document
	CreateIfNotExists Document
	Patch             *Patch
}

// Transaction is an ordered list of mutations committed atomically: either
// every mutation applies or none does.
type Transaction struct {
	Mutations []Mutation
}

func (t *Transaction) CreateOrReplace(doc Document) *Transaction {
	t.Mutations = append(t.Mutations, Mutation{CreateOrReplace: doc})
	return t
}

func (t *Transaction) CreateIfNotExists(doc Document) *Transaction {
	t.Mutations = append(t.Mutations, Mutation{CreateIfNotExists: doc})
	return t
}

func (t *Transaction) Patch(p Patch) *Transaction {
	t.Mutations = append(t.Mutations, Mutation{Patch: &p})
	return t
}

// Queries understood by every Store implementation. The HTTP store passes
// them to the platform verbatim; the in-memory store recognizes them.
const (
	// QueryTMDsByProject lists translation metadata documents for any of the
	// vendor project UIDs in $projects.
	QueryTMDsByProject = `*[_type == "phrase.tmd" && projectUid in $projects]`
	// QueryTMDsBySource lists translation metadata documents whose source
	// document reference is $sourceId.
	QueryTMDsBySource = `*[_type == "phrase.tmd" && sourceDoc._ref == $sourceId]`
)

// Store is the content-platform collaborator.
type Store interface {
	// Get fetches one document by ID. Missing documents yield
	// domain.ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// GetMany fetches a batch; missing IDs are simply absent from the result.
	GetMany(ctx context.Context, ids []string) (map[string]Document, error)
	// Query runs one of the named queries with parameters.
	Query(ctx context.Context, query string, params map[string]any) ([]Document, error)
	// Commit applies a transaction atomically. A failed revision check
	// surfaces as domain.ErrRevisionMismatch with no side effects.
	Commit(ctx context.Context, tx *Transaction) error
	// History returns the document state as of a past revision.
	History(ctx context.Context, id, rev string) (Document, error)
}

// IsRevisionMismatch reports whether err is an optimistic-concurrency
// failure: some patched document changed between read and commit.
func IsRevisionMismatch(err error) bool {
	return errors.Is(err, domain.ErrRevisionMismatch)
}

// IsNotFound reports whether err marks a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// DocID returns the `_id` of a document, empty when absent.
func DocID(doc Document) string {
	id, _ := doc["_id"].(string)
	return id
}

// DocRev returns the `_rev` of a document, empty when absent.
func DocRev(doc Document) string {
	rev, _ := doc["_rev"].(string)
	return rev
}

// DocType returns the `_type` of a document, empty when absent.
func DocType(doc Document) string {
	t, _ := doc["_type"].(string)
	return t
}
