package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	pages []string
	i     int
	fail  bool
}

func (s *stubProvider) CurrentSnapshot(context.Context) (string, error) {
	if s.fail {
		return "", errors.New("tab crashed")
	}
	return s.pages[s.i], nil
}

func (s *stubProvider) AdvanceWeek(context.Context) error {
	if s.i+1 >= len(s.pages) {
		return errors.New("no next control")
	}
	s.i++
	return nil
}

func TestArchiveSaveAndMeta(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	a := NewArchive(dir)

	require.NoError(t, a.Save(2, "<p>two</p>"))
	require.NoError(t, a.Save(1, "<p>one</p>"))
	require.NoError(t, a.Save(2, "<p>two again</p>"))

	meta, err := a.Meta()
	require.NoError(t, err)
	require.Len(t, meta.Weeks, 2)
	assert.Equal(t, 1, meta.Weeks[0].Week)
	assert.Equal(t, "week-02.html", meta.Weeks[1].File)
	assert.Equal(t, len("<p>two again</p>"), meta.Weeks[1].Bytes)
	assert.Len(t, meta.Weeks[1].SHA256, 64)

	data, err := os.ReadFile(filepath.Join(dir, "week-02.html"))
	require.NoError(t, err)
	assert.Equal(t, "<p>two again</p>", string(data))
}

func TestRecorderArchivesEachWeek(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(&stubProvider{pages: []string{"w1", "w2", "w3"}}, NewArchive(dir))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if i > 0 {
			require.NoError(t, rec.AdvanceWeek(ctx))
		}
		_, err := rec.CurrentSnapshot(ctx)
		require.NoError(t, err)
	}
	assert.Error(t, rec.AdvanceWeek(ctx))

	paths, err := NewArchive(dir).Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "week-01.html"),
		filepath.Join(dir, "week-02.html"),
		filepath.Join(dir, "week-03.html"),
	}, paths)
}

func TestRecorderPassesErrorsThrough(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(&stubProvider{fail: true}, NewArchive(dir))

	_, err := rec.CurrentSnapshot(context.Background())
	assert.EqualError(t, err, "tab crashed")

	_, err = os.Stat(filepath.Join(dir, "meta.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir)
	require.NoError(t, a.Save(1, "first"))
	require.NoError(t, a.Save(2, "second"))

	r, err := OpenReplay(dir)
	require.NoError(t, err)
	ctx := context.Background()

	html, err := r.CurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", html)

	require.NoError(t, r.AdvanceWeek(ctx))
	html, err = r.CurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", html)

	assert.ErrorIs(t, r.AdvanceWeek(ctx), ErrNoMoreWeeks)
}

func TestReplayEmptyAndCanceled(t *testing.T) {
	_, err := NewReplay(nil).CurrentSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoMoreWeeks)

	_, err = OpenReplay(filepath.Join(t.TempDir(), "nothing"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewReplay([]string{"x"}).CurrentSnapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
