package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/valter-silva-au/tmsync/pkg/models"
	"pgregory.net/rapid"
)

// Feature: tmsync, Property 6: Write-Back Preserves Siblings
// Writing one task leaves every other task in every tag unchanged.
func TestProperty_WriteBackPreservesSiblings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nTags := rapid.IntRange(1, 4).Draw(rt, "tags")
		file := make(map[string]map[string][]models.Task)
		for i := 0; i < nTags; i++ {
			n := rapid.IntRange(1, 5).Draw(rt, "tasks")
			tasks := make([]models.Task, n)
			for j := range tasks {
				tasks[j] = models.Task{
					ID:     models.NewNumericTaskID(j + 1),
					Title:  rapid.StringMatching(`[A-Za-z ]{1,10}`).Draw(rt, "title"),
					Status: rapid.SampledFrom([]models.TaskStatus{models.StatusPending, models.StatusReview}).Draw(rt, "status"),
				}
			}
			file[fmt.Sprintf("tag%d", i)] = map[string][]models.Task{"tasks": tasks}
		}
		data, err := json.Marshal(file)
		if err != nil {
			rt.Fatalf("encoding fixture: %v", err)
		}

		dir, err := os.MkdirTemp("", "taskstore-property-*")
		if err != nil {
			rt.Fatalf("MkdirTemp: %v", err)
		}
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "tasks.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			rt.Fatalf("writing fixture: %v", err)
		}
		s := NewTaskMasterStore(path, nil)
		ctx := context.Background()

		tag := fmt.Sprintf("tag%d", rapid.IntRange(0, nTags-1).Draw(rt, "target tag"))
		target := file[tag]["tasks"][rapid.IntRange(0, len(file[tag]["tasks"])-1).Draw(rt, "target")]
		target.Title = "rewritten"
		if err := s.WriteTask(ctx, tag, target); err != nil {
			rt.Fatalf("WriteTask: %v", err)
		}

		all, err := s.ReadAllGroupedByTag(ctx)
		if err != nil {
			rt.Fatalf("ReadAllGroupedByTag: %v", err)
		}
		for name, section := range file {
			got := all[name]
			if len(got) != len(section["tasks"]) {
				rt.Fatalf("tag %s has %d tasks, want %d", name, len(got), len(section["tasks"]))
			}
			for i, want := range section["tasks"] {
				if name == tag && want.ID == target.ID {
					if got[i].Title != "rewritten" {
						rt.Fatalf("target not rewritten: %+v", got[i])
					}
					continue
				}
				if got[i].Title != want.Title || got[i].Status != want.Status || got[i].ID != want.ID {
					rt.Fatalf("tag %s task %d changed: %+v -> %+v", name, i, want, got[i])
				}
			}
		}
	})
}
