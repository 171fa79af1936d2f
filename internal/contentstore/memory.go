package contentstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
)

// MemoryStore implements Store in memory with the platform's transactional
// semantics: per-document revisions bumped on every write, IfRevisionID
// enforcement, all-or-nothing commits, and a history of past states. Used by
// tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]Document
	history map[string][]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    map[string]Document{},
		history: map[string][]Document{},
	}
}

// Seed stores a document as-is, keeping an explicit `_rev` if present. Test
// setup helper; revisions of seeded documents are not recorded as history.
func (s *MemoryStore) Seed(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := contenttree.Copy(doc).(map[string]any)
	if DocRev(copied) == "" {
		copied["_rev"] = uuid.NewString()
	}
	s.docs[DocID(copied)] = copied
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return contenttree.Copy(doc).(map[string]any), nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []string) (map[string]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out[id] = contenttree.Copy(doc).(map[string]any)
		}
	}
	return out, nil
}

func (s *MemoryStore) Query(ctx context.Context, query string, params map[string]any) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	switch query {
	case QueryTMDsByProject:
		projects := stringParams(params["projects"])
		for _, doc := range s.docs {
			if DocType(doc) != domain.TMDType {
				continue
			}
			uid, _ := doc["projectUid"].(string)
			if contains(projects, uid) {
				out = append(out, contenttree.Copy(doc).(map[string]any))
			}
		}
	case QueryTMDsBySource:
		sourceID, _ := params["sourceId"].(string)
		for _, doc := range s.docs {
			if DocType(doc) != domain.TMDType {
				continue
			}
			if ref, ok := doc["sourceDoc"].(map[string]any); ok && ref["_ref"] == sourceID {
				out = append(out, contenttree.Copy(doc).(map[string]any))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, tx *Transaction) error {
	if tx == nil || len(tx.Mutations) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage every mutation against copies; swap in only when all succeed.
	staged := map[string]Document{}
	stagedGet := func(id string) (Document, bool) {
		if doc, ok := staged[id]; ok {
			return doc, true
		}
		doc, ok := s.docs[id]
		if !ok {
			return nil, false
		}
		return contenttree.Copy(doc).(map[string]any), true
	}

	for _, m := range tx.Mutations {
		switch {
		case m.CreateOrReplace != nil:
			doc := contenttree.Copy(m.CreateOrReplace).(map[string]any)
			if DocID(doc) == "" {
				return fmt.Errorf("createOrReplace without _id")
			}
			staged[DocID(doc)] = doc
		case m.CreateIfNotExists != nil:
			doc := contenttree.Copy(m.CreateIfNotExists).(map[string]any)
			if DocID(doc) == "" {
				return fmt.Errorf("createIfNotExists without _id")
			}
			if _, exists := stagedGet(DocID(doc)); !exists {
				staged[DocID(doc)] = doc
			}
		case m.Patch != nil:
			doc, ok := stagedGet(m.Patch.ID)
			if !ok {
				return fmt.Errorf("patch target %s: %w", m.Patch.ID, domain.ErrNotFound)
			}
			if m.Patch.IfRevisionID != "" && DocRev(doc) != m.Patch.IfRevisionID {
				return fmt.Errorf("patch target %s: %w", m.Patch.ID, domain.ErrRevisionMismatch)
			}
			if err := applyPatch(doc, m.Patch); err != nil {
				return err
			}
			staged[m.Patch.ID] = doc
		}
	}

	for id, doc := range staged {
		if prev, ok := s.docs[id]; ok {
			s.history[id] = append(s.history[id], prev)
		}
		doc["_rev"] = uuid.NewString()
		s.docs[id] = doc
	}
	return nil
}

func (s *MemoryStore) History(ctx context.Context, id, rev string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok && DocRev(doc) == rev {
		return contenttree.Copy(doc).(map[string]any), nil
	}
	for _, doc := range s.history[id] {
		if DocRev(doc) == rev {
			return contenttree.Copy(doc).(map[string]any), nil
		}
	}
	return nil, fmt.Errorf("document %s at revision %s: %w", id, rev, domain.ErrNotFound)
}

func applyPatch(doc Document, p *Patch) error {
	for path, value := range p.SetIfMissing {
		parsed := pathkey.StringToPath(path)
		if _, ok := contenttree.Get(doc, parsed); !ok {
			contenttree.Set(doc, parsed, contenttree.Copy(value))
		}
	}
	for path, value := range p.Set {
		contenttree.Set(doc, pathkey.StringToPath(path), contenttree.Copy(value))
	}
	for _, path := range p.Unset {
		unset(doc, pathkey.StringToPath(path))
	}
	if p.Insert != nil {
		if err := applyInsert(doc, p.Insert); err != nil {
			return err
		}
	}
	return nil
}

// applyInsert supports the append form used by this system: an array path
// with a trailing "[-1]" selector and position "after".
func applyInsert(doc Document, ins *Insert) error {
	sel := ins.After
	if sel == "" {
		return fmt.Errorf("unsupported insert position")
	}
	if !strings.HasSuffix(sel, "[-1]") {
		return fmt.Errorf("unsupported insert selector %q", sel)
	}
	path := pathkey.StringToPath(strings.TrimSuffix(sel, "[-1]"))
	existing, ok := contenttree.Get(doc, path)
	arr, isArr := existing.([]any)
	if ok && !isArr {
		return fmt.Errorf("insert target %q is not an array", sel)
	}
	for _, item := range ins.Items {
		arr = append(arr, contenttree.Copy(item))
	}
	contenttree.Set(doc, path, arr)
	return nil
}

func unset(doc Document, path pathkey.Path) {
	if path.IsRoot() || len(path) == 0 {
		return
	}
	parent, ok := contenttree.Get(doc, path[:len(path)-1])
	if !ok {
		return
	}
	if m, ok := parent.(map[string]any); ok {
		delete(m, path[len(path)-1])
	}
}

func stringParams(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
