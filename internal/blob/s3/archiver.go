package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// dayLayout is the date format used in archive paths and the archive API.
const dayLayout = time.DateOnly

var snapshotIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// ErrInvalidKey is returned for malformed day or snapshot id arguments.
var ErrInvalidKey = fmt.Errorf("s3blob: invalid archive key: %w", domain.ErrInvalidInput)

// SnapshotArchive keeps a cold copy of every fresh listing snapshot and lets
// operators browse them by day.
//
// Layout:
//
//	{prefix}/2025/01/31/{snapshot id}.json
type SnapshotArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewSnapshotArchive creates an archive rooted at prefix.
func NewSnapshotArchive(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *SnapshotArchive {
	return &SnapshotArchive{
		writer: writer,
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Archive uploads snap and returns its object path. Degraded snapshots are
// not archived.
func (a *SnapshotArchive) Archive(ctx context.Context, snap *domain.Snapshot) (string, error) {
	if snap.Degraded {
		return "", fmt.Errorf("s3blob: archive %s: degraded snapshot", snap.ID)
	}
	if !snapshotIDPattern.MatchString(snap.ID) {
		return "", fmt.Errorf("%w: snapshot id %q", ErrInvalidKey, snap.ID)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.ID, err)
	}

	p := a.objectPath(snap.Timestamp, snap.ID)
	if err := a.writer.Put(ctx, p, data, "application/json"); err != nil {
		return "", err
	}
	return p, nil
}

// List returns the archived objects of one UTC day, newest first.
func (a *SnapshotArchive) List(ctx context.Context, day string) ([]domain.BlobInfo, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("%w: day %q", ErrInvalidKey, day)
	}

	objects, err := a.reader.List(ctx, a.dayPrefix(t)+"/")
	if err != nil {
		return nil, err
	}
	infos := objects[:0]
	for _, obj := range objects {
		if strings.HasSuffix(obj.Path, ".json") {
			infos = append(infos, obj)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})
	return infos, nil
}

// Load returns the archived snapshot id captured on day. It returns
// domain.ErrNotFound when no such object exists.
func (a *SnapshotArchive) Load(ctx context.Context, day, id string) (*domain.Snapshot, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("%w: day %q", ErrInvalidKey, day)
	}
	if !snapshotIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: snapshot id %q", ErrInvalidKey, id)
	}

	p := a.objectPath(t, id)
	data, err := a.reader.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("s3blob: decode %s: %w", p, err)
	}
	return &snap, nil
}

func (a *SnapshotArchive) dayPrefix(t time.Time) string {
	return path.Join(a.prefix, t.UTC().Format("2006/01/02"))
}

func (a *SnapshotArchive) objectPath(t time.Time, id string) string {
	return a.dayPrefix(t) + "/" + id + ".json"
}

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*SnapshotArchive)(nil)
