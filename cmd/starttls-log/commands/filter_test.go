package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()
	events, err := reader.All()
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	return events
}

func TestFilterByConnectionID(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-1", Category: log.CategoryData},
		{Timestamp: ts, ConnectionID: "conn-2", Category: log.CategoryData},
		{Timestamp: ts, ConnectionID: "conn-1", Category: log.CategoryState},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.tlog")

	var out bytes.Buffer
	if err := RunFilter(path, FilterOptions{Output: outPath, ConnID: "conn-1"}, &out); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAll(t, outPath)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, e := range got {
		if e.ConnectionID != "conn-1" {
			t.Errorf("expected conn-1, got %s", e.ConnectionID)
		}
	}
	if !strings.Contains(out.String(), "Filtered 2 events") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base, ConnectionID: "early"},
		{Timestamp: base.Add(time.Hour), ConnectionID: "middle"},
		{Timestamp: base.Add(2 * time.Hour), ConnectionID: "late"},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.tlog")

	err := RunFilter(path, FilterOptions{
		Output:    outPath,
		TimeStart: base.Add(30 * time.Minute).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Minute).Format(time.RFC3339),
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAll(t, outPath)
	if len(got) != 1 || got[0].ConnectionID != "middle" {
		t.Errorf("expected only middle, got %+v", got)
	}
}

func TestFilterByLayerAndRole(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "a", Layer: log.LayerPlain, LocalRole: log.RoleServer},
		{Timestamp: ts, ConnectionID: "b", Layer: log.LayerSecure, LocalRole: log.RoleServer},
		{Timestamp: ts, ConnectionID: "c", Layer: log.LayerSecure, LocalRole: log.RoleClient},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.tlog")

	err := RunFilter(path, FilterOptions{Output: outPath, Layer: "secure", Role: "client"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAll(t, outPath)
	if len(got) != 1 || got[0].ConnectionID != "c" {
		t.Errorf("expected only c, got %+v", got)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, nil)
	outPath := filepath.Join(t.TempDir(), "filtered.tlog")

	tests := []FilterOptions{
		{Output: outPath, Layer: "wire"},
		{Output: outPath, Direction: "sideways"},
		{Output: outPath, Category: "message"},
		{Output: outPath, Role: "peer"},
		{Output: outPath, TimeStart: "yesterday"},
		{Output: outPath, TimeEnd: "tomorrow"},
	}
	for _, opts := range tests {
		if err := RunFilter(path, opts, &bytes.Buffer{}); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}
