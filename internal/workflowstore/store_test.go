package workflowstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_UpsertAndGetWorkflow(t *testing.T) {
	store := newTestStore(t)
	wf := workflow.Sample()

	if err := store.UpsertWorkflow(wf); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetWorkflow(wf.Name)
	if err != nil {
		t.Fatal(err)
	}

	if got.Method != wf.Method {
		t.Errorf("Method = %q, want %q", got.Method, wf.Method)
	}
	if got.MaxParallel != wf.MaxParallel {
		t.Errorf("MaxParallel = %d, want %d", got.MaxParallel, wf.MaxParallel)
	}
	if len(got.Tasks) != len(wf.Tasks) {
		t.Fatalf("Tasks count = %d, want %d", len(got.Tasks), len(wf.Tasks))
	}
	for i := range wf.Tasks {
		if got.Tasks[i] != wf.Tasks[i] {
			t.Errorf("Tasks[%d] = %+v, want %+v", i, got.Tasks[i], wf.Tasks[i])
		}
	}
	if len(got.Edges) != len(wf.Edges) {
		t.Fatalf("Edges count = %d, want %d", len(got.Edges), len(wf.Edges))
	}
	for i := range wf.Edges {
		if got.Edges[i] != wf.Edges[i] {
			t.Errorf("Edges[%d] = %v, want %v", i, got.Edges[i], wf.Edges[i])
		}
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)

	wf := workflow.Sample()
	if err := store.UpsertWorkflow(wf); err != nil {
		t.Fatal(err)
	}

	smaller := &domain.Workflow{
		Name:        wf.Name,
		Tasks:       []domain.Task{{ID: "only", Duration: 4, ResourceCost: 1}},
		MaxParallel: 1,
	}
	if err := store.UpsertWorkflow(smaller); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetWorkflow(wf.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].ID != "only" {
		t.Errorf("Tasks = %+v, want only the replacement task", got.Tasks)
	}
	if len(got.Edges) != 0 {
		t.Errorf("Edges = %v, want none", got.Edges)
	}
	if got.Method != "" {
		t.Errorf("Method = %q, want empty", got.Method)
	}
}

func TestStore_KeepsDanglingEdges(t *testing.T) {
	store := newTestStore(t)
	wf := &domain.Workflow{
		Name:  "dangling",
		Tasks: []domain.Task{{ID: "a", Duration: 1, ResourceCost: 1}},
		Edges: []domain.Edge{{From: "ghost", To: "a"}},
	}
	if err := store.UpsertWorkflow(wf); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetWorkflow("dangling")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Edges) != 1 || got.Edges[0].From != "ghost" {
		t.Errorf("Edges = %v, want the dangling edge preserved", got.Edges)
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		wf   *domain.Workflow
	}{
		{"no name", &domain.Workflow{Tasks: []domain.Task{{ID: "a", Duration: 1}}}},
		{"no tasks", &domain.Workflow{Name: "empty"}},
		{"bad duration", &domain.Workflow{Name: "bad", Tasks: []domain.Task{{ID: "a", Duration: 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpsertWorkflow(tt.wf)
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStore_ListWorkflows(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpsertWorkflow(workflow.Sample()); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertWorkflow(&domain.Workflow{
		Name:  "alpha",
		Tasks: []domain.Task{{ID: "x", Duration: 2, ResourceCost: 1}},
	}); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListWorkflows()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "ml-pipeline" {
		t.Errorf("names = [%s %s], want [alpha ml-pipeline]", list[0].Name, list[1].Name)
	}
	if list[1].Tasks != 5 || list[1].Edges != 5 {
		t.Errorf("ml-pipeline counts = %d tasks, %d edges, want 5/5", list[1].Tasks, list[1].Edges)
	}
	if list[0].UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestStore_DeleteWorkflow(t *testing.T) {
	store := newTestStore(t)
	wf := workflow.Sample()
	if err := store.UpsertWorkflow(wf); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteWorkflow(wf.Name); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetWorkflow(wf.Name); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetWorkflow after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteWorkflow(wf.Name); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("tasks left after delete = %d, want 0", count)
	}
}

func TestStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.db")

	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertWorkflow(workflow.Sample()); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetWorkflow("ml-pipeline")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 5 {
		t.Errorf("Tasks count = %d, want 5", len(got.Tasks))
	}
}
