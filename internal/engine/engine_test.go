package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Storage.ConnectionMode = config.ConnectionModeMemory
	cfg.Logging.DebugMode = false
	cfg.Reparse.Enabled = false
	cfg.Consolidation.IntervalSecs = 3600
	return *cfg
}

func TestOpenWiresSurfaceAndCloseIsClean(t *testing.T) {
	ctx := context.Background()

	eng, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, eng.Surface)

	ws, err := eng.Surface.CreateWorkspace(ctx, types.Workspace{Name: "proj"})
	require.NoError(t, err)
	assert.NotEmpty(t, ws.ID)

	require.NoError(t, eng.Close())
}

func TestOpenedEngineIngestsThroughSurface(t *testing.T) {
	ctx := context.Background()

	eng, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer eng.Close()

	ws, err := eng.Surface.CreateWorkspace(ctx, types.Workspace{Name: "proj"})
	require.NoError(t, err)

	_, err = eng.Surface.WriteFile(ctx, ws.ID, "src/lib.rs", []byte("pub fn add(a:i32,b:i32)->i32{a+b}"))
	require.NoError(t, err)

	report, err := eng.Surface.IngestFile(ctx, ws.ID, "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, 1, report.UnitsFound)
}

func TestOpenFailsOnUnknownConnectionMode(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.ConnectionMode = config.ConnectionMode("bogus")

	_, err := Open(ctx, cfg)
	assert.Error(t, err)
}
