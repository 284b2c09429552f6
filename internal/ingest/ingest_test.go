package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/lang"
	"github.com/cogmem/engine/internal/memory/semantic"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
	"github.com/cogmem/engine/internal/vfs"
)

func newTestPipeline(t *testing.T) (*Pipeline, *vfs.VFS, *semantic.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), config.StorageConfig{ConnectionMode: config.ConnectionModeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	v := vfs.New(store, vfs.Options{})
	sem, err := semantic.New(store)
	require.NoError(t, err)

	p := New(v, lang.NewRegistry(), sem, nil, config.ReparseConfig{})
	return p, v, sem
}

// TestIngestAndQuery implements spec scenario S1: ingest a single Rust
// function and query it back as the sole active unit.
func TestIngestAndQuery(t *testing.T) {
	p, v, sem := newTestPipeline(t)
	ctx := context.Background()

	_, err := v.Write(ctx, "W", "src/lib.rs", []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.NoError(t, err)

	report, err := p.IngestFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesIngested)
	assert.Equal(t, 1, report.UnitsFound)

	units, err := sem.QueryUnitsByFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, types.UnitFunction, u.UnitType)
	assert.Equal(t, "add", u.Name)
	assert.Equal(t, "add", u.QualifiedName)
	assert.Equal(t, 1, u.StartLine)
	assert.Equal(t, 1, u.EndLine)
	assert.Equal(t, types.UnitStatusActive, u.Status)
}

// TestReparseSupersedes implements spec scenario S2: re-ingesting a
// changed file supersedes the prior active unit and activates the new one.
func TestReparseSupersedes(t *testing.T) {
	p, v, sem := newTestPipeline(t)
	ctx := context.Background()

	_, err := v.Write(ctx, "W", "src/lib.rs", []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.NoError(t, err)
	_, err = p.IngestFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)

	_, err = v.Write(ctx, "W", "src/lib.rs", []byte("pub fn mul(a:i32,b:i32)->i32{a*b}"))
	require.NoError(t, err)
	_, err = p.IngestFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)

	active, err := sem.QueryUnitsByFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mul", active[0].Name)

	all, err := sem.QueryAllUnitsByFile(ctx, "W", "src/lib.rs")
	require.NoError(t, err)
	require.Len(t, all, 2)

	var sawReplacedAdd, sawActiveMul bool
	for _, u := range all {
		if u.Name == "add" && u.Status == types.UnitStatusReplaced {
			sawReplacedAdd = true
		}
		if u.Name == "mul" && u.Status == types.UnitStatusActive {
			sawActiveMul = true
		}
	}
	assert.True(t, sawReplacedAdd)
	assert.True(t, sawActiveMul)
}

func TestIngestFileUnsupportedLanguageProducesNoUnits(t *testing.T) {
	p, v, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := v.Write(ctx, "W", "README.md", []byte("# hello"))
	require.NoError(t, err)

	report, err := p.IngestFile(ctx, "W", "README.md")
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnitsFound)
}
