package config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Engine.Backend != "ollama" {
		t.Errorf("backend = %q", cfg.Engine.Backend)
	}
	if cfg.Retrieval.TopK != 5 || !cfg.Retrieval.FallbackToBase {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Chunking.MaxChars != 600 || cfg.Chunking.OverlapChars != 80 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if len(cfg.Transcript.Languages) != 1 || cfg.Transcript.Languages[0] != "es" {
		t.Errorf("languages = %v", cfg.Transcript.Languages)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ESCUCHA_SERVER_PORT", "5001")
	t.Setenv("ESCUCHA_ENGINE_EMBED_DIM", "384")
	t.Setenv("ESCUCHA_RETRIEVAL_MIN_SCORE", "0.25")
	t.Setenv("ESCUCHA_RETRIEVAL_FALLBACK_TO_BASE", "false")
	t.Setenv("ESCUCHA_TRANSCRIPT_LANGUAGES", "es, en")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5001 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Engine.EmbedDim != 384 {
		t.Errorf("embed dim = %d", cfg.Engine.EmbedDim)
	}
	if cfg.Retrieval.MinScore != 0.25 {
		t.Errorf("min score = %v", cfg.Retrieval.MinScore)
	}
	if cfg.Retrieval.FallbackToBase {
		t.Error("fallback override ignored")
	}
	if len(cfg.Transcript.Languages) != 2 || cfg.Transcript.Languages[1] != "en" {
		t.Errorf("languages = %v", cfg.Transcript.Languages)
	}
}

func TestLoad_MalformedEnvKeepsDefault(t *testing.T) {
	t.Setenv("ESCUCHA_SERVER_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want the default after a malformed override", cfg.Server.Port)
	}
}

func TestLoad_OpenAIRequiresAPIKey(t *testing.T) {
	t.Setenv("ESCUCHA_ENGINE_BACKEND", "openai")

	if _, err := Load(); err == nil {
		t.Fatal("openai backend accepted without an API key")
	}

	t.Setenv("ESCUCHA_ENGINE_API_KEY", "sk-test")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with key: %v", err)
	}
}

func TestLoad_RejectsBadChunking(t *testing.T) {
	t.Setenv("ESCUCHA_CHUNKING_MAX_CHARS", "50")
	t.Setenv("ESCUCHA_CHUNKING_OVERLAP_CHARS", "80")

	if _, err := Load(); err == nil {
		t.Fatal("overlap larger than chunk size accepted")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("ESCUCHA_ENGINE_BACKEND", "bedrock")

	if _, err := Load(); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "secret-token"
	cfg.Engine.APIKey = "sk-secret"

	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "secret") {
			t.Errorf("secret value surfaced under key %s", info.Key)
		}
		if info.Key == "server.api_token" || info.Key == "engine.api_key" {
			t.Errorf("secret key %s listed", info.Key)
		}
	}
}
