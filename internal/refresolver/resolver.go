// Package refresolver discovers documents transitively referenced by a root
// document, level by level up to a depth bound, for optional inclusion in
// translation scope.
package refresolver

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
)

const (
	// DefaultMaxDepth bounds traversal from the root.
	DefaultMaxDepth = 3
	// DefaultConcurrency bounds parallel fetches within one depth level.
	DefaultConcurrency = 2
)

// Options tunes a traversal. Zero values take defaults. IgnoredFields are
// skipped wherever they appear; the translation metadata field is always
// ignored so tracking references never join the scope.
type Options struct {
	MaxDepth      int
	Concurrency   int
	IgnoredFields []string
}

// Occurrence records one place a target was referenced from.
type Occurrence struct {
	ParentID string
	Depth    int
	Path     pathkey.Path
}

// Target is one discovered document. When both draft and published states
// exist the draft is kept and its references drive further traversal.
type Target struct {
	ID          string
	Doc         contentstore.Document
	Draft       bool
	Occurrences []Occurrence
}

// Result carries partial results: fetch errors are collected per document
// and never abort the rest of the traversal.
type Result struct {
	Targets map[string]*Target
	Errors  map[string]error
}

// pendingRef is a discovered reference awaiting its fetch.
type pendingRef struct {
	id  string
	occ Occurrence
}

// Resolve walks references breadth-first. Depth levels run sequentially (the
// next level's fetch set is only known once the current one is fetched);
// fetches inside a level run with bounded parallelism. Each document is
// fetched once regardless of how many paths reach it.
func Resolve(ctx context.Context, store contentstore.Store, root contentstore.Document, opts Options) *Result {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	ignored := map[string]struct{}{domain.MetadataField: {}}
	for _, f := range opts.IgnoredFields {
		ignored[f] = struct{}{}
	}

	result := &Result{Targets: map[string]*Target{}, Errors: map[string]error{}}
	rootID := pathkey.UndraftID(contentstore.DocID(root))
	visited := map[string]struct{}{rootID: {}}

	level := collectRefs(root, contentstore.DocID(root), 1, ignored)
	for depth := 1; depth <= opts.MaxDepth && len(level) > 0; depth++ {
		byID := dedupeLevel(level, visited, result)

		var (
			mu   sync.Mutex
			next []pendingRef
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for id, occurrences := range byID {
			g.Go(func() error {
				target, err := fetchPreferringDraft(gctx, store, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors[id] = err
					return nil
				}
				target.Occurrences = occurrences
				result.Targets[id] = target
				if depth < opts.MaxDepth {
					next = append(next, collectRefs(target.Doc, id, depth+1, ignored)...)
				}
				return nil
			})
		}
		// Goroutines only report into the result maps, never fail the group.
		_ = g.Wait()
		level = next
	}
	return result
}

// dedupeLevel buckets a level's references by published document ID. A
// reference to an already-visited target only records a new occurrence.
func dedupeLevel(level []pendingRef, visited map[string]struct{}, result *Result) map[string][]Occurrence {
	grouped := map[string][]Occurrence{}
	for _, ref := range level {
		if _, seen := visited[ref.id]; seen {
			if target, ok := result.Targets[ref.id]; ok {
				target.Occurrences = append(target.Occurrences, ref.occ)
			}
			continue
		}
		grouped[ref.id] = append(grouped[ref.id], ref.occ)
	}
	for id := range grouped {
		visited[id] = struct{}{}
	}
	return grouped
}

func fetchPreferringDraft(ctx context.Context, store contentstore.Store, id string) (*Target, error) {
	docs, err := store.GetMany(ctx, []string{pathkey.DraftID(id), id})
	if err != nil {
		return nil, err
	}
	if draft, ok := docs[pathkey.DraftID(id)]; ok {
		return &Target{ID: id, Doc: draft, Draft: true}, nil
	}
	if published, ok := docs[id]; ok {
		return &Target{ID: id, Doc: published}, nil
	}
	return nil, domain.ErrNotFound
}

func collectRefs(doc contentstore.Document, parentID string, depth int, ignored map[string]struct{}) []pendingRef {
	var out []pendingRef
	walkRefs(doc, pathkey.Path{}, ignored, func(at pathkey.Path, ref string) {
		out = append(out, pendingRef{
			id: pathkey.UndraftID(ref),
			occ: Occurrence{
				ParentID: parentID,
				Depth:    depth,
				Path:     at,
			},
		})
	})
	sort.SliceStable(out, func(i, j int) bool {
		return pathkey.PathToString(out[i].occ.Path) < pathkey.PathToString(out[j].occ.Path)
	})
	return out
}

func walkRefs(v any, at pathkey.Path, ignored map[string]struct{}, emit func(pathkey.Path, string)) {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := t["_ref"].(string); ok && ref != "" {
			emit(append(pathkey.Path{}, at...), ref)
			return
		}
		for k, child := range t {
			if _, skip := ignored[k]; skip {
				continue
			}
			if at.IsRoot() && contenttree.IsSystemField(k) {
				continue
			}
			walkRefs(child, append(append(pathkey.Path{}, at...), k), ignored, emit)
		}
	case []any:
		for _, child := range t {
			walkRefs(child, at, ignored, emit)
		}
	}
}
