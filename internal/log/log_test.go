package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger, err := SetupWriter(Config{Level: "WARN", Format: "auto"}, &buf, false)
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Str("ticker", "ARKK").Msg("dataset missing")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "ARKK", entry["ticker"])
	assert.Contains(t, entry, "time")
}

func TestSetupWriter_ConsoleOnTTY(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger, err := SetupWriter(Config{Format: "auto"}, &buf, true)
	require.NoError(t, err)
	logger.Info().Msg("listening")

	assert.Contains(t, buf.String(), "listening")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestSetupWriter_Errors(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	_, err := SetupWriter(Config{Level: "loud"}, &bytes.Buffer{}, false)
	assert.ErrorContains(t, err, "invalid log level")

	_, err = SetupWriter(Config{Format: "xml"}, &bytes.Buffer{}, false)
	assert.ErrorContains(t, err, "invalid log format")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "check", 4, true)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.start = base
	p.now = func() time.Time { return base.Add(2 * time.Second) }

	p.Step("ARKF", true)
	assert.Contains(t, buf.String(), "[#####...............] 1/4")
	assert.Contains(t, buf.String(), "ETA 6s")

	p.Step("ARKG", false)
	assert.Contains(t, buf.String(), "[##########..........] 2/4 ETA 2s ARKG")

	buf.Reset()
	p.Finish()
	assert.Contains(t, buf.String(), "check: 1/4 failed (2s)")
}

func TestProgress_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "check", 2, false)
	p.Step("ARKK", true)
	assert.Empty(t, buf.String())

	p.Step("ARKW", true)
	p.Finish()
	assert.True(t, strings.HasPrefix(buf.String(), "check: 2 ok"))
}
