package obslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWithDebugDisabledCreatesNoLogDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Config{DebugMode: false}))

	_, err := os.Stat(filepath.Join(dir, ".engine", "logs"))
	assert.True(t, os.IsNotExist(err))

	// Loggers built while disabled must be safe no-ops.
	Get(CategoryBoot).Info("should not panic or write anything")
}

func TestInitializeWithDebugEnabledCreatesLogDirAndWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Config{DebugMode: true, Level: "debug"}))

	Get(CategoryIngest).Info("hello")

	path := filepath.Join(dir, ".engine", "logs", string(CategoryIngest)+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestCategoryDisabledViaConfigStaysSilent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Config{
		DebugMode:  true,
		Categories: map[string]bool{string(CategoryIngest): false},
	}))

	Get(CategoryIngest).Info("should not be written")

	path := filepath.Join(dir, ".engine", "logs", string(CategoryIngest)+".log")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestTimerStopReturnsNonNegativeDuration(t *testing.T) {
	require.NoError(t, Initialize(t.TempDir(), Config{DebugMode: false}))

	timer := StartTimer(CategoryQuery, "test-op")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}
