package keymap

import "testing"

func TestMapper_ChunkKey(t *testing.T) {
	tests := []struct {
		prefix, path string
		index        uint32
		want         string
	}{
		{"", "/a.txt", 0, "a.txt.chunk.000000"},
		{"", "/docs/a.txt", 12, "docs/a.txt.chunk.000012"},
		{"vault", "/a.txt", 3, "vault/a.txt.chunk.000003"},
		{"vault/", "/a.txt", 3, "vault/a.txt.chunk.000003"},
	}

	for _, tt := range tests {
		m := New(tt.prefix)
		if got := m.ChunkKey(tt.path, tt.index); got != tt.want {
			t.Errorf("ChunkKey(%q, %d) with prefix %q = %q, want %q",
				tt.path, tt.index, tt.prefix, got, tt.want)
		}
	}
}

func TestMapper_MarkerKey(t *testing.T) {
	m := New("vault")
	if got := m.MarkerKey("/docs"); got != "vault/docs/.dir" {
		t.Errorf("MarkerKey(/docs) = %q", got)
	}
	if got := m.MarkerKey("/docs/sub"); got != "vault/docs/sub/.dir" {
		t.Errorf("MarkerKey(/docs/sub) = %q", got)
	}
}

func TestMapper_ParseRoundTrip(t *testing.T) {
	for _, prefix := range []string{"", "vault"} {
		m := New(prefix)

		e, ok := m.Parse(m.ChunkKey("/docs/a.txt", 42))
		if !ok {
			t.Fatalf("Parse(chunk key) not ok, prefix %q", prefix)
		}
		if e.Kind != KindChunk || e.Path != "/docs/a.txt" || e.Index != 42 {
			t.Errorf("Parse(chunk key) = %+v", e)
		}

		e, ok = m.Parse(m.MarkerKey("/docs"))
		if !ok {
			t.Fatalf("Parse(marker key) not ok, prefix %q", prefix)
		}
		if e.Kind != KindMarker || e.Path != "/docs" {
			t.Errorf("Parse(marker key) = %+v", e)
		}
	}
}

func TestMapper_ParseRejectsMalformed(t *testing.T) {
	m := New("vault")

	bad := []string{
		"other/a.chunk.000001", // wrong prefix
		"vault/a.txt",          // neither chunk nor marker
		"vault/a.chunk.12",     // wrong digit count
		"vault/a.chunk.00000x", // non-digit index
		"vault/.dir",           // marker for empty path
		"vault/",               // bare prefix
	}
	for _, key := range bad {
		if _, ok := m.Parse(key); ok {
			t.Errorf("Parse(%q) ok, want skipped", key)
		}
	}
}

func TestMapper_Prefixes(t *testing.T) {
	m := New("vault")

	if got := m.FilePrefix("/docs/a.txt"); got != "vault/docs/a.txt.chunk." {
		t.Errorf("FilePrefix = %q", got)
	}
	if got := m.TreePrefix("/docs"); got != "vault/docs/" {
		t.Errorf("TreePrefix(/docs) = %q", got)
	}
	if got := m.TreePrefix("/"); got != "vault/" {
		t.Errorf("TreePrefix(/) = %q", got)
	}
}
