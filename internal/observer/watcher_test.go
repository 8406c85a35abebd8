package observer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, paths ...string) (*WorkflowWatcher, chan string) {
	t.Helper()
	changes := make(chan string, 16)
	ww, err := NewWorkflowWatcher(func(path string) { changes <- path })
	if err != nil {
		t.Fatal(err)
	}
	ww.SetDebounce(50 * time.Millisecond)
	for _, p := range paths {
		if err := ww.Add(p); err != nil {
			t.Fatal(err)
		}
	}
	ww.Start(context.Background())
	t.Cleanup(ww.Stop)
	return ww, changes
}

func TestWorkflowWatcher_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	writeFile(t, path, "workflows: []\n")

	_, changes := startWatcher(t, path)

	writeFile(t, path, "workflows: [{id: a, duration: 1}]\n")

	select {
	case got := <-changes:
		if got != path {
			t.Errorf("changed path = %q, want %q", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestWorkflowWatcher_Debounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	writeFile(t, path, "{}")

	_, changes := startWatcher(t, path)

	for i := 0; i < 5; i++ {
		writeFile(t, path, `{"workflows": []}`)
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	select {
	case extra := <-changes:
		t.Errorf("rapid writes produced a second notification for %q", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWorkflowWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.toml")
	other := filepath.Join(dir, "other.toml")
	writeFile(t, watched, "")

	_, changes := startWatcher(t, watched)

	writeFile(t, other, "name = \"x\"\n")

	select {
	case got := <-changes:
		t.Errorf("unexpected notification for %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWorkflowWatcher_AddRemove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	writeFile(t, a, "")
	writeFile(t, b, "")

	ww, err := NewWorkflowWatcher(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ww.Stop()

	if err := ww.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := ww.Add(b); err != nil {
		t.Fatal(err)
	}
	if err := ww.Add(a); err != nil {
		t.Fatal(err)
	}
	if got := ww.Files(); len(got) != 2 {
		t.Fatalf("Files() = %v, want 2 entries", got)
	}

	ww.Remove(a)
	got := ww.Files()
	if len(got) != 1 || got[0] != b {
		t.Errorf("Files() after remove = %v, want [%s]", got, b)
	}
	if ww.dirs[dir] != 1 {
		t.Errorf("dir refcount = %d, want 1", ww.dirs[dir])
	}
}

func TestWorkflowWatcher_AddMissingDir(t *testing.T) {
	ww, err := NewWorkflowWatcher(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ww.Stop()

	if err := ww.Add(filepath.Join(t.TempDir(), "missing", "wf.yaml")); err == nil {
		t.Error("expected error watching a file in a missing directory")
	}
}
