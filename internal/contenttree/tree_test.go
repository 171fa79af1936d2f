package contenttree

import (
	"testing"

	"phrasebridge/internal/pathkey"
)

func doc() map[string]any {
	return map[string]any{
		"_id":   "post-1",
		"_rev":  "r1",
		"_type": "post",
		"title": "Hello",
		"body": map[string]any{
			"intro":   "first",
			"outro":   "last",
			"numbers": []any{1.0, 2.0},
		},
		"phraseMeta": map[string]any{"translations": []any{}},
	}
}

func TestGetSet(t *testing.T) {
	d := doc()
	v, ok := Get(d, pathkey.Path{"body", "intro"})
	if !ok || v != "first" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	if _, ok := Get(d, pathkey.Path{"body", "missing"}); ok {
		t.Fatal("missing path resolved")
	}
	Set(d, pathkey.Path{"body", "deep", "field"}, "x")
	v, ok = Get(d, pathkey.Path{"body", "deep", "field"})
	if !ok || v != "x" {
		t.Fatal("Set did not create intermediate objects")
	}
}

func TestCopyIsDeep(t *testing.T) {
	d := doc()
	c := Copy(d).(map[string]any)
	c["body"].(map[string]any)["intro"] = "mutated"
	if d["body"].(map[string]any)["intro"] != "first" {
		t.Fatal("copy aliased the original")
	}
	if !Equal(doc(), d) {
		t.Fatal("original changed")
	}
}

func TestDiffReportsOutermostChangedPaths(t *testing.T) {
	before := doc()
	after := Copy(before).(map[string]any)
	Set(after, pathkey.Path{"body", "intro"}, "rewritten")
	Set(after, pathkey.Path{"title"}, "Changed")

	changed := Diff(before, after)
	want := []string{"body.intro", "title"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for i, p := range changed {
		if pathkey.PathToString(p) != want[i] {
			t.Fatalf("changed[%d] = %v, want %s", i, p, want[i])
		}
	}
}

func TestDiffCollapsesReplacedSubtree(t *testing.T) {
	before := doc()
	after := Copy(before).(map[string]any)
	Set(after, pathkey.Path{"body"}, "now a string")

	changed := Diff(before, after)
	if len(changed) != 1 || pathkey.PathToString(changed[0]) != "body" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestDiffIgnoresSystemAndMetadataFields(t *testing.T) {
	before := doc()
	after := Copy(before).(map[string]any)
	after["_rev"] = "r2"
	after["phraseMeta"] = map[string]any{"translations": []any{map[string]any{"key": "k"}}}

	if changed := Diff(before, after); len(changed) != 0 {
		t.Fatalf("changed = %v", changed)
	}
}

func TestMergeAtPathsGraftsOnlyRequestedPaths(t *testing.T) {
	target := doc()
	source := map[string]any{
		"title": "Translated",
		"body":  map[string]any{"intro": "translated intro", "outro": "translated outro"},
	}
	out := MergeAtPaths(target, source, []pathkey.Path{{"body", "intro"}})
	if v, _ := Get(out, pathkey.Path{"body", "intro"}); v != "translated intro" {
		t.Fatalf("merged intro = %v", v)
	}
	if v, _ := Get(out, pathkey.Path{"body", "outro"}); v != "last" {
		t.Fatalf("outro should stay: %v", v)
	}
	if v, _ := Get(out, pathkey.Path{"title"}); v != "Hello" {
		t.Fatalf("title should stay: %v", v)
	}
	// Target untouched.
	if v, _ := Get(target, pathkey.Path{"body", "intro"}); v != "first" {
		t.Fatal("merge mutated its target")
	}
}

func TestMergeAtPathsRootReplacesTranslatableFields(t *testing.T) {
	target := doc()
	source := map[string]any{
		"_id":   "other",
		"title": "Translated",
		"body":  "flat",
	}
	out := MergeAtPaths(target, source, []pathkey.Path{{}})
	if out["title"] != "Translated" || out["body"] != "flat" {
		t.Fatalf("root merge produced %v", out)
	}
	if out["_id"] != "post-1" {
		t.Fatalf("system field overwritten: %v", out["_id"])
	}
}

func TestTranslatableFields(t *testing.T) {
	fields := TranslatableFields(doc())
	want := []string{"body", "title"}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("fields = %v, want %v", fields, want)
		}
	}
}
