package refresolver

import (
	"context"
	"errors"
	"testing"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
)

func ref(id string) map[string]any {
	return map[string]any{"_type": "reference", "_ref": id}
}

func TestResolveWalksReferencesBreadthFirst(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "author-1", "_type": "author", "name": "Ada"})
	store.Seed(contentstore.Document{"_id": "category-1", "_type": "category", "parent": ref("category-2")})
	store.Seed(contentstore.Document{"_id": "category-2", "_type": "category", "name": "root"})
	root := contentstore.Document{
		"_id": "post-1", "_type": "post",
		"author":   ref("author-1"),
		"category": ref("category-1"),
	}

	result := Resolve(context.Background(), store, root, Options{})
	if len(result.Errors) != 0 {
		t.Fatalf("errors = %v", result.Errors)
	}
	for _, id := range []string{"author-1", "category-1", "category-2"} {
		if _, ok := result.Targets[id]; !ok {
			t.Fatalf("target %s missing, got %v", id, keys(result.Targets))
		}
	}
	if d := result.Targets["category-2"].Occurrences[0].Depth; d != 2 {
		t.Fatalf("category-2 depth = %d", d)
	}
	if p := result.Targets["author-1"].Occurrences[0].ParentID; p != "post-1" {
		t.Fatalf("author-1 parent = %s", p)
	}
}

func TestResolveFetchesSharedTargetOnce(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "author-1", "_type": "author"})
	root := contentstore.Document{
		"_id": "post-1", "_type": "post",
		"author": ref("author-1"),
		"editor": ref("author-1"),
	}

	result := Resolve(context.Background(), store, root, Options{})
	target, ok := result.Targets["author-1"]
	if !ok {
		t.Fatal("author-1 missing")
	}
	if len(target.Occurrences) != 2 {
		t.Fatalf("occurrences = %+v", target.Occurrences)
	}
}

func TestResolveStopsAtMaxDepth(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "a", "_type": "x", "next": ref("b")})
	store.Seed(contentstore.Document{"_id": "b", "_type": "x", "next": ref("c")})
	store.Seed(contentstore.Document{"_id": "c", "_type": "x"})
	root := contentstore.Document{"_id": "root", "_type": "x", "next": ref("a")}

	result := Resolve(context.Background(), store, root, Options{MaxDepth: 2})
	if _, ok := result.Targets["a"]; !ok {
		t.Fatal("depth-1 target missing")
	}
	if _, ok := result.Targets["b"]; !ok {
		t.Fatal("depth-2 target missing")
	}
	if _, ok := result.Targets["c"]; ok {
		t.Fatal("depth-3 target must be out of scope")
	}
}

func TestResolvePrefersDraftState(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "author-1", "_type": "author", "name": "published"})
	store.Seed(contentstore.Document{"_id": "drafts.author-1", "_type": "author", "name": "draft"})
	root := contentstore.Document{"_id": "post-1", "_type": "post", "author": ref("author-1")}

	result := Resolve(context.Background(), store, root, Options{})
	target := result.Targets["author-1"]
	if target == nil || !target.Draft || target.Doc["name"] != "draft" {
		t.Fatalf("target = %+v", target)
	}
}

func TestResolveIsolatesMissingTargets(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "author-1", "_type": "author"})
	root := contentstore.Document{
		"_id": "post-1", "_type": "post",
		"author": ref("author-1"),
		"broken": ref("gone"),
	}

	result := Resolve(context.Background(), store, root, Options{})
	if _, ok := result.Targets["author-1"]; !ok {
		t.Fatal("healthy target missing")
	}
	if !errors.Is(result.Errors["gone"], domain.ErrNotFound) {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestResolveSkipsMetadataAndIgnoredFields(t *testing.T) {
	store := contentstore.NewMemoryStore()
	store.Seed(contentstore.Document{"_id": "author-1", "_type": "author"})
	store.Seed(contentstore.Document{"_id": "tmd-1", "_type": "phrase.tmd"})
	store.Seed(contentstore.Document{"_id": "asset-1", "_type": "image"})
	root := contentstore.Document{
		"_id": "post-1", "_type": "post",
		"author":     ref("author-1"),
		"phraseMeta": map[string]any{"translations": []any{map[string]any{"tmd": ref("tmd-1")}}},
		"heroImage":  ref("asset-1"),
	}

	result := Resolve(context.Background(), store, root, Options{IgnoredFields: []string{"heroImage"}})
	if _, ok := result.Targets["author-1"]; !ok {
		t.Fatal("author-1 missing")
	}
	if _, ok := result.Targets["tmd-1"]; ok {
		t.Fatal("tracking references must never join the scope")
	}
	if _, ok := result.Targets["asset-1"]; ok {
		t.Fatal("ignored field was traversed")
	}
}

func keys(m map[string]*Target) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
