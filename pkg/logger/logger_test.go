package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "game.log")
	require.NoError(t, Init(Config{Level: "warn", OutputFile: path, MaxSize: 1, NoColor: true}))

	Infof("hidden %d", 1)
	Warnf("visible %d", 2)
	WithFields(Fields{"channel": "game"}).Warn("with fields")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hidden 1")
	assert.Contains(t, string(b), "visible 2")
	assert.Contains(t, string(b), "channel=game")
}

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Errorf("boom")
	assert.Contains(t, buf.String(), "boom")
}
