package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyContentReturnsDefaults(t *testing.T) {
	cfg, warnings, err := Parse("", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	// Default google provider carries credential/region warnings.
	require.Len(t, warnings, 2)
}

func TestParseRejectsNonObjectContent(t *testing.T) {
	_, _, err := Parse("speech.language = en-US", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "JSONC object")
}

func TestParseJSONCOverridesDefaults(t *testing.T) {
	content := `{
		// recognition service
		"speech": {
			"provider": "google",
			"credential": "key-123",
			"region": "europe-west4",
			"language": "de-DE",
			"automatic_punctuation": false,
		},
		"audio": {"input": "usb-mic"},
		"observability": {"metrics_addr": "127.0.0.1:9321"},
		"debug": {"audio_dump": true},
	}`

	cfg, warnings, err := Parse(content, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "key-123", cfg.Speech.Credential)
	require.Equal(t, "europe-west4", cfg.Speech.Region)
	require.Equal(t, "de-DE", cfg.Speech.Language)
	require.False(t, cfg.Speech.AutomaticPunctuation)
	require.Equal(t, "usb-mic", cfg.Audio.Input)
	require.Equal(t, "default", cfg.Audio.Fallback)
	require.Equal(t, "127.0.0.1:9321", cfg.Observability.MetricsAddr)
	require.True(t, cfg.Debug.EnableAudioDump)
}

func TestParseJSONCBlockCommentAndTrailingComma(t *testing.T) {
	content := `{
		/* mock provider needs no credential */
		"speech": {"provider": "mock",},
	}`

	cfg, warnings, err := Parse(content, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, ProviderMock, cfg.Speech.Provider)
}

func TestParseJSONCUnknownFieldRejected(t *testing.T) {
	_, _, err := Parse(`{"speech": {"api_key": "nope"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_key")
}

func TestParseJSONCSyntaxErrorReportsLineColumn(t *testing.T) {
	content := "{\n\"speech\": {\n\"language\" \"en-US\"\n}\n}"
	_, _, err := Parse(content, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 3")
}

func TestParseJSONCMultipleValuesRejected(t *testing.T) {
	_, _, err := Parse(`{"speech": {"provider": "mock"}} {"audio": {}}`, Default())
	require.Error(t, err)
}

func TestParseJSONCCommentInsideStringPreserved(t *testing.T) {
	cfg, _, err := Parse(`{"speech": {"provider": "mock", "model": "a//b"}}`, Default())
	require.NoError(t, err)
	require.Equal(t, "a//b", cfg.Speech.Model)
}

func TestParseJSONCUnterminatedBlockComment(t *testing.T) {
	_, _, err := Parse(`{"audio": {}} /* dangling`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}
