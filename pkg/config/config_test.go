package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Workflow.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Workflow.HealthTimeout)
	assert.Equal(t, 10, cfg.Ingest.MinOCRChars)
	assert.Equal(t, 10, cfg.Chat.HistoryLimit)
	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages)
	assert.False(t, cfg.Ingest.LocalPDF)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("WORKFLOW_MAX_ATTEMPTS", "5")
	t.Setenv("WORKFLOW_RETRY_DELAY", "1")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("INGEST_LOCAL_PDF", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Workflow.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Workflow.RetryDelay)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.True(t, cfg.Ingest.LocalPDF)
}

func TestGetIntIgnoresGarbage(t *testing.T) {
	t.Setenv("CHAT_HISTORY_LIMIT", "ten")
	assert.Equal(t, 10, getInt("CHAT_HISTORY_LIMIT", 10))
}
