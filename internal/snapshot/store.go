// Package snapshot persists page screenshots taken at the end of a capture.
package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var (
	ErrInvalidID = errors.New("invalid snapshot id")
	ErrNotFound  = errors.New("snapshot not found")
)

// SnapshotMeta describes stored snapshot metadata.
type SnapshotMeta struct {
	ID        string    `json:"id"`
	PageURL   string    `json:"page_url"`
	Format    string    `json:"format"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages snapshot files on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SaveBase64 stores a base64 screenshot as returned by the browser under a
// fresh id.
func (s *Store) SaveBase64(pageURL, format, data string) (SnapshotMeta, error) {
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("snapshot store: decode image: %w", err)
	}
	if format == "" {
		format = "png"
	}

	meta := SnapshotMeta{
		ID:        uuid.New().String(),
		PageURL:   pageURL,
		Format:    format,
		SizeBytes: len(img),
		CreatedAt: s.now().UTC(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		meta.Width, meta.Height = cfg.Width, cfg.Height
	}

	if err := s.Save(meta, img); err != nil {
		return SnapshotMeta{}, err
	}
	return meta, nil
}

// Save writes both the image file and metadata sidecar.
func (s *Store) Save(meta SnapshotMeta, imageData []byte) error {
	if err := s.validateID(meta.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imgPath := filepath.Join(s.dir, meta.ID+"."+meta.Format)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(imgPath, imageData, 0o644); err != nil {
		return fmt.Errorf("snapshot store: write image: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("snapshot store: marshal meta: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("snapshot store: write meta: %w", err)
	}

	slog.Debug("snapshot saved", "id", meta.ID, "page_url", meta.PageURL, "size_bytes", meta.SizeBytes)
	return nil
}

// Get reads snapshot metadata by ID.
func (s *Store) Get(id string) (SnapshotMeta, error) {
	if err := s.validateID(id); err != nil {
		return SnapshotMeta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (SnapshotMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotMeta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return SnapshotMeta{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}

	var meta SnapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return SnapshotMeta{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all snapshots sorted by creation time (newest first).
func (s *Store) List() ([]SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]SnapshotMeta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta SnapshotMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	return metas, nil
}

// ReadImage reads the raw image bytes and returns the format.
func (s *Store) ReadImage(id string) ([]byte, string, error) {
	if err := s.validateID(id); err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+"."+meta.Format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: image %s", ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("snapshot store: read image: %w", err)
	}
	return data, meta.Format, nil
}

// Delete removes both the image and metadata files.
func (s *Store) Delete(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, id+"."+meta.Format)); err != nil {
		slog.Debug("snapshot image cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("snapshot store: remove meta: %w", err)
	}
	return nil
}
