package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageScanning, "Scanning"},
		{StageChunking, "Chunking"},
		{StageEmbedding, "Embedding"},
		{StageStoring, "Storing"},
		{StageComplete, "Complete"},
		{Stage(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.String())
		})
	}
}

func TestStage_Icon(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageScanning, "SCAN"},
		{StageChunking, "CHUNK"},
		{StageEmbedding, "EMBED"},
		{StageStoring, "STORE"},
		{StageComplete, "DONE"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.Icon())
		})
	}
}

func TestStageFor(t *testing.T) {
	assert.Equal(t, StageChunking, StageFor(ingest.StageChunking))
	assert.Equal(t, StageEmbedding, StageFor(ingest.StageEmbedding))
	assert.Equal(t, StageStoring, StageFor(ingest.StageStoring))
	assert.Equal(t, StageStoring, StageFor(ingest.StageReady))
	assert.Equal(t, StageStoring, StageFor(ingest.StageFailed))
}

func TestIsTTY_WithBuffer_ReturnsFalse(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestIsTTY_WithRegularFile_ReturnsFalse(t *testing.T) {
	// Given: a regular file
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Then: it is not a terminal
	assert.False(t, IsTTY(f))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestNewConfig_AppliesOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithSource("docs/"))

	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "docs/", cfg.Source)
}

func TestNewRenderer_NonTTYReturnsPlain(t *testing.T) {
	// Given: a buffer output
	r := NewRenderer(NewConfig(&bytes.Buffer{}))

	// Then: the plain renderer is chosen
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}
