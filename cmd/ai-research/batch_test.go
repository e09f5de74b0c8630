package main

import (
	"strings"
	"testing"
)

func TestReadTasks(t *testing.T) {
	in := "What causes migraines?\n\n# skipped\n  How is asthma treated?  \n"
	tasks, err := readTasks(strings.NewReader(in), "ops")
	if err != nil {
		t.Fatalf("readTasks() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "1" || tasks[1].ID != "4" || tasks[1].Question != "How is asthma treated?" || tasks[1].EndUserID != "ops" {
		t.Errorf("unexpected tasks %+v", tasks)
	}

	if _, err := readTasks(strings.NewReader("\n# only comments\n"), ""); err == nil {
		t.Error("expected error for empty input")
	}
}
