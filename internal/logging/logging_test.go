package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"error": zerolog.ErrorLevel,
		"WARN":  zerolog.WarnLevel,
		"info":  zerolog.InfoLevel,
		"Debug": zerolog.DebugLevel,
		"trace": zerolog.TraceLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("")
	assert.Error(t, err)
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "prod")
	l.Info().Str("module", "test").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "test", line["module"])
}

func TestLoggerFactoryScopesModule(t *testing.T) {
	var buf bytes.Buffer
	f := NewLoggerFactory(zerolog.New(&buf).Level(zerolog.TraceLevel))

	l := f.NewLogger("dtls")
	l.Warnf("retransmit %d", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pion.dtls", line["module"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "retransmit 3", line["message"])
}
