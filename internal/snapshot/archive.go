// Package snapshot keeps the HTML of every collected week on disk and can
// replay it later as a page provider, so extraction can be re-run without a
// browser or credentials.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"schedsync/internal/fsutil"
	appLog "schedsync/internal/log"
)

// ErrNoMoreWeeks is returned by Replay.AdvanceWeek past the last file.
var ErrNoMoreWeeks = errors.New("snapshot: no more archived weeks")

const metaFile = "meta.json"

// WeekMeta describes one archived snapshot.
type WeekMeta struct {
	Week       int       `json:"week"`
	File       string    `json:"file"`
	SHA256     string    `json:"sha256"`
	Bytes      int       `json:"bytes"`
	CapturedAt time.Time `json:"captured_at"`
}

// Meta is the archive index stored next to the snapshots.
type Meta struct {
	Weeks     []WeekMeta `json:"weeks"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Archive stores week snapshots under a directory as week-NN.html.
type Archive struct {
	dir string
	mu  sync.Mutex
}

// NewArchive returns an Archive rooted at dir. The directory is created on
// first Save.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// Save writes one week's HTML and updates the index. A week saved twice is
// replaced.
func (a *Archive) Save(week int, html string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := fmt.Sprintf("week-%02d.html", week)
	if err := fsutil.WriteFileAtomic(filepath.Join(a.dir, name), []byte(html), 0o600); err != nil {
		return fmt.Errorf("snapshot: save week %d: %w", week, err)
	}

	meta, _ := a.loadMeta()
	sum := sha256.Sum256([]byte(html))
	entry := WeekMeta{
		Week:       week,
		File:       name,
		SHA256:     hex.EncodeToString(sum[:]),
		Bytes:      len(html),
		CapturedAt: time.Now().UTC(),
	}

	replaced := false
	for i := range meta.Weeks {
		if meta.Weeks[i].Week == week {
			meta.Weeks[i] = entry
			replaced = true
		}
	}
	if !replaced {
		meta.Weeks = append(meta.Weeks, entry)
	}
	sort.Slice(meta.Weeks, func(i, j int) bool { return meta.Weeks[i].Week < meta.Weeks[j].Week })
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(a.dir, metaFile), data, 0o600)
}

// Meta returns the archive index.
func (a *Archive) Meta() (Meta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadMeta()
}

// Paths lists archived snapshot files in week order.
func (a *Archive) Paths() ([]string, error) {
	meta, err := a.Meta()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(meta.Weeks))
	for _, w := range meta.Weeks {
		out = append(out, filepath.Join(a.dir, w.File))
	}
	return out, nil
}

func (a *Archive) loadMeta() (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(filepath.Join(a.dir, metaFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Provider is the page interface the recorder wraps; it matches
// paginate.SnapshotProvider.
type Provider interface {
	CurrentSnapshot(ctx context.Context) (string, error)
	AdvanceWeek(ctx context.Context) error
}

// Recorder passes calls through to a live provider and archives every
// snapshot it returns. Archive failures are logged, never returned.
type Recorder struct {
	next    Provider
	archive *Archive
	week    int
}

// NewRecorder wraps next so that its snapshots land in archive.
func NewRecorder(next Provider, archive *Archive) *Recorder {
	return &Recorder{next: next, archive: archive, week: 1}
}

func (r *Recorder) CurrentSnapshot(ctx context.Context) (string, error) {
	html, err := r.next.CurrentSnapshot(ctx)
	if err != nil {
		return html, err
	}
	if err := r.archive.Save(r.week, html); err != nil {
		appLog.Error("snapshot archive failed", err, "week", r.week, "dir", r.archive.Dir())
	}
	return html, nil
}

func (r *Recorder) AdvanceWeek(ctx context.Context) error {
	if err := r.next.AdvanceWeek(ctx); err != nil {
		return err
	}
	r.week++
	return nil
}

// Replay serves snapshot files in order, one per week.
type Replay struct {
	paths []string
	i     int
}

// NewReplay replays the given files; the first is week 1.
func NewReplay(paths []string) *Replay {
	return &Replay{paths: paths}
}

// OpenReplay replays everything recorded in an archive directory.
func OpenReplay(dir string) (*Replay, error) {
	paths, err := NewArchive(dir).Paths()
	if err != nil {
		return nil, fmt.Errorf("snapshot: open archive %s: %w", dir, err)
	}
	return NewReplay(paths), nil
}

func (r *Replay) CurrentSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.i >= len(r.paths) {
		return "", ErrNoMoreWeeks
	}
	data, err := os.ReadFile(r.paths[r.i])
	if err != nil {
		return "", fmt.Errorf("snapshot: read %s: %w", r.paths[r.i], err)
	}
	return string(data), nil
}

func (r *Replay) AdvanceWeek(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.i+1 >= len(r.paths) {
		return ErrNoMoreWeeks
	}
	r.i++
	return nil
}
