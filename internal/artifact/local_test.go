package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorePutWritesFileAndURI(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	uri, err := s.Put(context.Background(), "m-1/3/task-9/motion.json", []byte(`{"frames":[]}`), "application/json")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "artifact://local/m-1/3/task-9/motion.json" {
		t.Fatalf("uri = %q", uri)
	}

	data, err := os.ReadFile(filepath.Join(root, "m-1", "3", "task-9", "motion.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"frames":[]}` {
		t.Fatalf("content = %s", data)
	}
}

func TestLocalStoreDefaultsRoot(t *testing.T) {
	s, err := NewLocalStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.root == "" {
		t.Fatal("expected a default root directory")
	}
}
