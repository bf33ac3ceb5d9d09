package cli

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/lykmapipo/moron/config"
)

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, buf)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Str("model", "Person").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"model":"Person"`)

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "bogus", Format: "console"}, buf)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Info().Msg("loaded")
	assert.Contains(t, buf.String(), "INF loaded")
}
