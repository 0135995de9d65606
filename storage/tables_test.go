package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"planner-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	file := "plan.pdf"
	task := domain.Task{
		ID:        "0190f5a2-0000-7000-8000-000000000001",
		YearWeek:  "2024-W12",
		DayOfWeek: "friday",
		Name:      "review",
		TimeStart: "10:00",
		TimeEnd:   "11:00",
		Finished:  1,
		Priority:  3,
		File:      &file,
	}
	payload, err := json.Marshal(toTaskEntity(task))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["PartitionKey"] != taskPartition || raw["RowKey"] != task.ID {
		t.Fatalf("unexpected keys: %v", raw)
	}
	var ent taskEntity
	if err := json.Unmarshal(payload, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := ent.task()
	if got.ID != task.ID || got.Name != task.Name || got.Finished != 1 || got.File == nil || *got.File != file {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestTaskEntityOmitsMissingFile(t *testing.T) {
	payload, err := json.Marshal(toTaskEntity(domain.Task{ID: "x"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(payload, &raw)
	if _, ok := raw["File"]; ok {
		t.Fatalf("expected File to be omitted: %s", payload)
	}
}

func TestDecodeWeekEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"week","RowKey":"w1","Year":2024,"NumWeek":12,"Color":"red","Description":"d","Priority":2,"Link":"l"}`)
	var ent weekEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	w := ent.week()
	if w.ID != "w1" || w.Year != 2024 || w.NumWeek != 12 || w.Link != "l" {
		t.Fatalf("unexpected week: %+v", w)
	}
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &azcore.ResponseError{StatusCode: 412})
	if got := statusCode(err); got != 412 {
		t.Fatalf("expected 412, got %d", got)
	}
	if got := statusCode(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
