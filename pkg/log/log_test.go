package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docqa-go/internal/config"
)

func TestInit_WritesJSONFile(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Init(config.LogConfig{Level: "not-a-level", Format: "json", OutputPath: dir}))

	Infow("ingest finished", "document_id", "doc-1")
	Debugf("hidden at info level")
	With("component", "test").Info("child logger")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document_id":"doc-1"`)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.NotContains(t, string(data), "hidden at info level")
}

func TestNopBeforeInit(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })
	sugar = zap.NewNop().Sugar()

	assert.NotPanics(t, func() {
		Info("x")
		Error("y", os.ErrNotExist)
		Errorw("z", "k", 1)
	})
}
