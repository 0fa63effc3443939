package namespace

import (
	"errors"
	"testing"
	"time"
)

func TestTree_CreateAndStat(t *testing.T) {
	tr := NewTree()

	if err := tr.Create("/docs", Dir); err != nil {
		t.Fatalf("Create /docs: %v", err)
	}
	if err := tr.Create("/docs/a.txt", File); err != nil {
		t.Fatalf("Create /docs/a.txt: %v", err)
	}

	attr, err := tr.Stat("/docs")
	if err != nil || attr.Kind != Dir {
		t.Errorf("Stat(/docs) = %+v, %v", attr, err)
	}
	attr, err = tr.Stat("/docs/a.txt")
	if err != nil || attr.Kind != File || attr.Size != 0 {
		t.Errorf("Stat(/docs/a.txt) = %+v, %v", attr, err)
	}

	if _, err := tr.Stat("/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat(/missing) = %v, want ErrNotFound", err)
	}
}

func TestTree_CreateErrors(t *testing.T) {
	tr := NewTree()
	tr.Create("/docs", Dir)
	tr.Create("/file", File)

	if err := tr.Create("/docs", Dir); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create = %v, want ErrExists", err)
	}
	if err := tr.Create("/nope/x", File); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("Create under missing parent = %v, want ErrParentNotFound", err)
	}
	if err := tr.Create("/file/x", File); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Create under file = %v, want ErrNotDirectory", err)
	}
}

func TestTree_RemoveNotEmpty(t *testing.T) {
	tr := NewTree()
	tr.Create("/docs", Dir)
	tr.Create("/docs/a.txt", File)

	if err := tr.Remove("/docs"); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("Remove non-empty dir = %v, want ErrNotEmpty", err)
	}
	if err := tr.Remove("/docs/a.txt"); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := tr.Remove("/docs"); err != nil {
		t.Fatalf("Remove emptied dir: %v", err)
	}
	if tr.Exists("/docs") {
		t.Error("removed dir still resolves")
	}
	if err := tr.Remove("/gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove missing = %v, want ErrNotFound", err)
	}
}

func TestTree_Children(t *testing.T) {
	tr := NewTree()
	tr.Create("/b.txt", File)
	tr.Create("/a", Dir)
	tr.Create("/c.txt", File)

	entries, err := tr.Children("/")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}

	// Insertion order, exactly the current children.
	want := []DirEntry{{"b.txt", File}, {"a", Dir}, {"c.txt", File}}
	if len(entries) != len(want) {
		t.Fatalf("Children len = %d, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("Children[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}

	if _, err := tr.Children("/b.txt"); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Children on file = %v, want ErrNotDirectory", err)
	}
}

func TestTree_Rename(t *testing.T) {
	tr := NewTree()
	tr.Create("/docs", Dir)
	tr.Create("/docs/a.txt", File)
	tr.SetSize("/docs/a.txt", 42, time.Now())
	tr.Create("/archive", Dir)

	if err := tr.Rename("/docs/a.txt", "/archive/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if tr.Exists("/docs/a.txt") {
		t.Error("old path still resolves")
	}
	attr, err := tr.Stat("/archive/b.txt")
	if err != nil {
		t.Fatalf("Stat after rename: %v", err)
	}
	if attr.Size != 42 {
		t.Errorf("size lost on rename: %d", attr.Size)
	}
}

func TestTree_RenameDirectoryReindexesSubtree(t *testing.T) {
	tr := NewTree()
	tr.Create("/a", Dir)
	tr.Create("/a/sub", Dir)
	tr.Create("/a/sub/f.txt", File)
	tr.Create("/b", Dir)

	if err := tr.Rename("/a", "/b/a2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	for _, path := range []string{"/b/a2", "/b/a2/sub", "/b/a2/sub/f.txt"} {
		if !tr.Exists(path) {
			t.Errorf("%s missing after directory rename", path)
		}
	}
	for _, path := range []string{"/a", "/a/sub", "/a/sub/f.txt"} {
		if tr.Exists(path) {
			t.Errorf("%s still resolves after directory rename", path)
		}
	}
}

func TestTree_RenameErrors(t *testing.T) {
	tr := NewTree()
	tr.Create("/a", Dir)
	tr.Create("/b", File)

	if err := tr.Rename("/missing", "/x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing = %v, want ErrNotFound", err)
	}
	if err := tr.Rename("/a", "/b"); !errors.Is(err, ErrExists) {
		t.Errorf("rename onto existing = %v, want ErrExists", err)
	}
	if err := tr.Rename("/a", "/a/inside"); !errors.Is(err, ErrInvalidRename) {
		t.Errorf("rename into itself = %v, want ErrInvalidRename", err)
	}
	if err := tr.Rename("/", "/elsewhere"); !errors.Is(err, ErrInvalidRename) {
		t.Errorf("rename root = %v, want ErrInvalidRename", err)
	}
}

func TestTree_EnsureHelpers(t *testing.T) {
	tr := NewTree()

	// Chunk listing entries can arrive before their directory markers.
	tr.EnsureFile("/x/y/z.bin", 100, time.Now())
	tr.EnsureDir("/x/y")
	tr.EnsureFile("/x/y/z.bin", 50, time.Now()) // smaller size must not shrink

	attr, err := tr.Stat("/x/y/z.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attr.Size != 100 {
		t.Errorf("size = %d, want 100", attr.Size)
	}

	attr, err = tr.Stat("/x/y")
	if err != nil || attr.Kind != Dir {
		t.Errorf("Stat(/x/y) = %+v, %v", attr, err)
	}
	// root, /x, /x/y, /x/y/z.bin
	if got := tr.Len(); got != 4 {
		t.Errorf("Len = %d, want 4", got)
	}
}

func TestSplitJoin(t *testing.T) {
	tests := []struct {
		path, parent, name string
	}{
		{"/", "/", ""},
		{"/a", "/", "a"},
		{"/a/b", "/a", "b"},
		{"/a/b/c", "/a/b", "c"},
	}
	for _, tt := range tests {
		parent, name := Split(tt.path)
		if parent != tt.parent || name != tt.name {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", tt.path, parent, name, tt.parent, tt.name)
		}
		if tt.name != "" {
			if got := Join(tt.parent, tt.name); got != tt.path {
				t.Errorf("Join(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.path)
			}
		}
	}
}
