package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONLWriterFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw", "messages.jsonl")
	w, err := NewJSONLWriter(path, 16, 1)
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := w.Write(map[string]int{"id": i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := w.Write("late"); err == nil {
		t.Fatalf("Write() after Close error = nil")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var ids []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ids = append(ids, rec.ID)
	}
	if len(ids) != 5 {
		t.Fatalf("lines = %v; want 5 records", ids)
	}
	for i, id := range ids {
		if id != i {
			t.Fatalf("record %d has id %d; want in order", i, id)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]string{"url": "http://x/?a=1&b=<2>"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "\n    \"url\"") {
		t.Fatalf("WriteJSON() not indented: %q", out)
	}
	if !strings.Contains(out, "&b=<2>") {
		t.Fatalf("WriteJSON() escaped HTML: %q", out)
	}
}

func TestWriteJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "capture.har")
	if err := WriteJSONFile(path, map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSONFile() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["n"] != 1 {
		t.Fatalf("file content = %s (%v)", raw, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("output dir has %d entries; want only the output file", len(entries))
	}
}
