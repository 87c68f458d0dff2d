package query

import "testing"

func TestExpandShorthand(t *testing.T) {
	cases := map[string]string{
		"entry":    "weaver.notebook.entry",
		"book":     "weaver.notebook.book",
		"notebook": "weaver.notebook.book",
		"profile":  "weaver.actor.profile",
		"weaver.notebook.entry": "weaver.notebook.entry", // already a full name: passthrough
	}
	for in, want := range cases {
		if got := expandShorthand(in); string(got) != want {
			t.Errorf("expandShorthand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIndexOfNull(t *testing.T) {
	if idx := indexOfNull("did:plc:abc\x00r1"); idx != len("did:plc:abc") {
		t.Fatalf("indexOfNull = %d, want %d", idx, len("did:plc:abc"))
	}
	if idx := indexOfNull("no-null-byte"); idx != -1 {
		t.Fatalf("indexOfNull = %d, want -1", idx)
	}
}
