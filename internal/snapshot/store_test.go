package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDeleteLogsImageCleanupFailureWhenImageMissing(t *testing.T) {
	dir := t.TempDir()
	store := &Store{dir: dir}
	id := "123e4567-e89b-12d3-a456-426614174000"
	jsonPath := filepath.Join(dir, id+".json")

	meta := SnapshotMeta{
		ID:     id,
		Format: "png",
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	if err := os.WriteFile(jsonPath, metaBytes, 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}

	if !strings.Contains(buf.String(), "snapshot image cleanup failed") {
		t.Fatalf("expected image cleanup debug log, got %q", buf.String())
	}
}

func tinyPNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png.Encode() failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestSaveBase64RoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "shots"))
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}

	meta, err := store.SaveBase64("http://example.com/", "png", tinyPNG(t, 3, 2))
	if err != nil {
		t.Fatalf("SaveBase64() = %v", err)
	}
	if !uuidRe.MatchString(meta.ID) {
		t.Fatalf("ID = %q; want uuid", meta.ID)
	}
	if meta.Width != 3 || meta.Height != 2 || meta.SizeBytes == 0 {
		t.Fatalf("meta = %+v", meta)
	}

	got, err := store.Get(meta.ID)
	if err != nil || got.PageURL != "http://example.com/" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	img, format, err := store.ReadImage(meta.ID)
	if err != nil || format != "png" || len(img) != meta.SizeBytes {
		t.Fatalf("ReadImage() = %d bytes, %q, %v", len(img), format, err)
	}

	list, err := store.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if err := store.Delete(meta.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if _, err := store.Get(meta.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Delete = %v; want ErrNotFound", err)
	}
}

func TestSaveBase64RejectsGarbage(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.SaveBase64("http://example.com/", "png", "%%%"); err == nil {
		t.Fatalf("SaveBase64() = nil; want decode error")
	}
}

func TestInvalidID(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	for _, id := range []string{"", "../etc/passwd", "123E4567-E89B-12D3-A456-426614174000"} {
		if _, err := store.Get(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Get(%q) = %v; want ErrInvalidID", id, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
	} {
		meta := SnapshotMeta{ID: id, Format: "png", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Save(meta, []byte("x")); err != nil {
			t.Fatalf("Save() = %v", err)
		}
	}

	list, err := store.List()
	if err != nil || len(list) != 2 {
		t.Fatalf("List() = %v, %v", list, err)
	}
	if list[0].ID != "00000000-0000-0000-0000-000000000002" {
		t.Fatalf("List()[0] = %s; want newest first", list[0].ID)
	}
}
