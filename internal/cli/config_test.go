package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/nocap/internal/model"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	require.NoError(t, registerDefaults(v, model.DefaultConfig()))
	v.SetEnvPrefix("NOCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newTestViper(t))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NOCAP_LLM_PROVIDER", "openai")
	t.Setenv("NOCAP_PIPELINE_THRESHOLD", "0.8")
	t.Setenv("NOCAP_HTTP_TIMEOUT", "3s")

	cfg, err := loadConfig(newTestViper(t))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0.8, cfg.Pipeline.Threshold)
	assert.Equal(t, 3*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
}

func TestLoadConfig_File(t *testing.T) {
	v := newTestViper(t)
	v.SetConfigType("yaml")
	require.NoError(t, v.MergeConfig(strings.NewReader(`
llm:
  provider: ollama
  model: llama3.1
pipeline:
  top_k: 3
authority:
  primary_domains: [example.gov]
`)))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Pipeline.TopK)
	assert.Equal(t, []string{"example.gov"}, cfg.Authority.PrimaryDomains)
	assert.Equal(t, 100.0, cfg.Pipeline.Threshold)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("NOCAP_LLM_PROVIDER", "bard")
	_, err := loadConfig(newTestViper(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDefaultConfig(&buf))
	assert.Contains(t, buf.String(), "# nocap configuration file")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(&buf))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

func TestRedact(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"

	out := redact(cfg)
	assert.Equal(t, "****", out.LLM.APIKey)
	assert.Empty(t, out.Embedder.APIKey)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestTargetIndex(t *testing.T) {
	tests := []struct {
		arg, override string
		want          model.IndexName
		wantErr       bool
	}{
		{"notes.txt", "", model.IndexDocument, false},
		{"https://www.who.int/a", "", model.IndexWeb, false},
		{"https://www.who.int/a", "document", model.IndexDocument, false},
		{"notes.txt", "pdf", "", true},
	}
	for _, tt := range tests {
		got, err := targetIndex(tt.arg, tt.override)
		if tt.wantErr {
			assert.Error(t, err, tt.arg)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.arg)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
