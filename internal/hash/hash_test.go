package hash

import "testing"

var testKeys = []Key{
	{Name: "id"},
	{Name: "title"},
	{Name: "keywords"},
	{Name: "authors", Ordered: true},
}

func samplePayload() map[string]any {
	return map[string]any{
		"id":       "doc-1",
		"title":    "On reproducible digests",
		"keywords": []any{"hashing", "bibliography"},
		"authors":  []any{"Curie, M.", "Meitner, L."},
		"comment":  "not part of the digest",
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := Digest("1.2.0", samplePayload(), testKeys)
	b := Digest("1.2.0", samplePayload(), testKeys)
	if a != b {
		t.Fatalf("same payload produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != mustLower(a) {
		t.Fatal("digest must be lower-case hex")
	}
}

func TestDigestVersionSensitive(t *testing.T) {
	a := Digest("1.2.0", samplePayload(), testKeys)
	b := Digest("1.3.0", samplePayload(), testKeys)
	if a == b {
		t.Fatal("version change must change the digest")
	}
}

func TestDigestIgnoresNonParticipatingFields(t *testing.T) {
	base := Digest("1.2.0", samplePayload(), testKeys)
	edited := samplePayload()
	edited["comment"] = "changed"
	edited["extra"] = 42
	if got := Digest("1.2.0", edited, testKeys); got != base {
		t.Fatal("fields outside the key list must not affect the digest")
	}
}

func TestDigestParticipatingFieldChanges(t *testing.T) {
	base := Digest("1.2.0", samplePayload(), testKeys)
	edited := samplePayload()
	edited["title"] = "On something else"
	if got := Digest("1.2.0", edited, testKeys); got == base {
		t.Fatal("participating field change must change the digest")
	}
}

func TestDigestUnorderedListsSorted(t *testing.T) {
	base := Digest("1.2.0", samplePayload(), testKeys)
	shuffled := samplePayload()
	shuffled["keywords"] = []any{"bibliography", "hashing"}
	if got := Digest("1.2.0", shuffled, testKeys); got != base {
		t.Fatal("unordered list reordering must not change the digest")
	}
}

func TestDigestOrderedListsKeepOrder(t *testing.T) {
	base := Digest("1.2.0", samplePayload(), testKeys)
	reordered := samplePayload()
	reordered["authors"] = []any{"Meitner, L.", "Curie, M."}
	if got := Digest("1.2.0", reordered, testKeys); got == base {
		t.Fatal("ordered list reordering must change the digest")
	}
}

func TestDigestAbsentFieldIsEmpty(t *testing.T) {
	missing := samplePayload()
	delete(missing, "keywords")
	null := samplePayload()
	null["keywords"] = nil
	if Digest("1.2.0", missing, testKeys) != Digest("1.2.0", null, testKeys) {
		t.Fatal("absent and nil fields should digest identically")
	}
}

func TestDigestNestedStructuresStable(t *testing.T) {
	keys := []Key{{Name: "ids"}}
	a := map[string]any{"ids": map[string]any{"doi": "10.1/x", "hal": "hal-1"}}
	b := map[string]any{"ids": map[string]any{"hal": "hal-1", "doi": "10.1/x"}}
	if Digest("1.0.0", a, keys) != Digest("1.0.0", b, keys) {
		t.Fatal("map key order must not affect the digest")
	}
}

func mustLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
