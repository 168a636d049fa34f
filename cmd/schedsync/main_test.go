package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedsync/internal/ics"
)

const weekHTML = `<html><body>
<div style="position:absolute; left: 20px; top: -40px">Pon 04-03-2024</div>
<div style="position:absolute; left: 150px; top: -40px">Wt 05-03-2024</div>
<div style="position:absolute; left: 21px; top: 100px" onmouseover="showtip('Algebra&lt;br&gt;Dr. Kowalski&lt;br&gt;10:00-11:30&lt;br&gt;Sala: 204')">Algebra</div>
<div style="position:absolute; left: 151px; top: 100px" onmouseover="showtip('Montaż&lt;br&gt;mgr Wójcik&lt;br&gt;12:00-13:30')">Montaż</div>
</body></html>`

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func TestSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"sync", "extract", "serve"})
}

func TestExtractFromFiles(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "week-01.html")
	require.NoError(t, os.WriteFile(page, []byte(weekHTML), 0o600))
	out := filepath.Join(dir, "out.ics")
	cfgPath := filepath.Join(dir, "schedsync.yaml")

	require.NoError(t, execute(t, "--config", cfgPath, "extract", "-o", out, page))

	parsed, err := ics.ParseFile(out)
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 2)
	assert.Equal(t, "Algebra (Dr. Kowalski)", parsed.Entries[0].Summary)
	assert.Equal(t, "Montaż (mgr Wójcik)", parsed.Entries[1].Summary)

	// First run writes the default config file.
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err)
}

func TestExtractNeedsInput(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "schedsync.yaml")
	assert.Error(t, execute(t, "--config", cfgPath, "extract"))
	assert.Error(t, execute(t, "--config", cfgPath, "extract", "--dir", "x", "page.html"))
}
