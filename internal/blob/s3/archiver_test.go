package s3blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	objects map[string][]byte
	times   map[string]time.Time
	clock   time.Time
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: make(map[string][]byte),
		times:   make(map[string]time.Time),
		clock:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memBlobs) Put(_ context.Context, path string, b []byte, _ string) error {
	m.clock = m.clock.Add(time.Minute)
	m.objects[path] = b
	m.times[path] = m.clock
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) ([]byte, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b)), LastModified: m.times[p]})
		}
	}
	return out, nil
}

func testSnapshot(id string, ts time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		ID:        id,
		Timestamp: ts,
		Source:    domain.SourceUpstream,
		Total:     1,
		Assets: []domain.Asset{
			{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Rank: 1, Price: 65000},
		},
	}
}

func TestSnapshotArchive_ArchivePath(t *testing.T) {
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "/snapshots/")

	ts := time.Date(2025, 1, 31, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	p, err := a.Archive(context.Background(), testSnapshot("abc-123", ts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 23:30 at UTC-2 is already the next day in UTC.
	want := "snapshots/2025/02/01/abc-123.json"
	if p != want {
		t.Errorf("expected path %q, got %q", want, p)
	}
	if _, ok := blobs.objects[want]; !ok {
		t.Errorf("expected object at %q", want)
	}
}

func TestSnapshotArchive_RejectsDegraded(t *testing.T) {
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "snapshots")

	snap := testSnapshot("fallback-1", time.Now())
	snap.Degraded = true
	if _, err := a.Archive(context.Background(), snap); err == nil {
		t.Fatal("expected error for degraded snapshot")
	}
	if len(blobs.objects) != 0 {
		t.Errorf("expected nothing written, got %d objects", len(blobs.objects))
	}
}

func TestSnapshotArchive_ListAndLoad(t *testing.T) {
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "snapshots")
	ctx := context.Background()

	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"first", "second"} {
		if _, err := a.Archive(ctx, testSnapshot(id, day)); err != nil {
			t.Fatalf("archive %s: %v", id, err)
		}
	}
	if _, err := a.Archive(ctx, testSnapshot("other-day", day.Add(24*time.Hour))); err != nil {
		t.Fatalf("archive other-day: %v", err)
	}

	infos, err := a.List(ctx, "2025-03-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(infos))
	}
	if !strings.HasSuffix(infos[0].Path, "/second.json") {
		t.Errorf("expected newest first, got %s", infos[0].Path)
	}

	snap, err := a.Load(ctx, "2025-03-01", "first")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.ID != "first" || len(snap.Assets) != 1 || snap.Assets[0].ID != "bitcoin" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if _, err := a.Load(ctx, "2025-03-01", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotArchive_InvalidKeys(t *testing.T) {
	blobs := newMemBlobs()
	a := NewSnapshotArchive(blobs, blobs, "snapshots")
	ctx := context.Background()

	tests := []struct {
		name string
		day  string
		id   string
	}{
		{"bad day", "03-01-2025", "x"},
		{"empty day", "", "x"},
		{"path traversal id", "2025-03-01", "../secret"},
		{"empty id", "2025-03-01", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Load(ctx, tt.day, tt.id); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}

	if _, err := a.List(ctx, "yesterday"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey from List, got %v", err)
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
		{"https://s3.amazonaws.com", false, "https://s3.amazonaws.com"},
	}
	for _, tt := range tests {
		if got := withScheme(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("withScheme(%q, %v): expected %q, got %q", tt.endpoint, tt.useSSL, tt.want, got)
		}
	}
}
