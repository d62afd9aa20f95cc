package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Storage    StorageConfig
	Retrieval  RetrievalConfig
	Chunking   ChunkingConfig
	Transcript TranscriptConfig
	Guard      GuardConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

// EngineConfig selects the inference backend. Backend is "ollama" (default)
// or "openai" for any OpenAI-compatible server.
type EngineConfig struct {
	Backend    string
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	EmbedDim   int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK             int
	MinScore         float64
	MaxContextTokens int
	FallbackToBase   bool
}

type ChunkingConfig struct {
	MaxChars     int
	OverlapChars int
}

// TranscriptConfig points at the caption service. Languages is the
// preference order for transcript fetches.
type TranscriptConfig struct {
	BaseURL   string
	Languages []string
}

// GuardConfig points at the moderation service. An empty BaseURL disables
// content filtering.
type GuardConfig struct {
	BaseURL string
}

type LogConfig struct {
	Level string
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "escucha-data"
		}
	}
	return filepath.Join(dir, "escucha")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Engine: EngineConfig{
			Backend:    "ollama",
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
			EmbedDim:   768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			MinScore:         0,
			MaxContextTokens: 4000,
			FallbackToBase:   true,
		},
		Chunking: ChunkingConfig{
			MaxChars:     600,
			OverlapChars: 80,
		},
		Transcript: TranscriptConfig{
			BaseURL:   "http://localhost:8008",
			Languages: []string{"es"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from defaults, a .env file in the working
// directory (if present), and ESCUCHA_* environment variables. Environment
// variables win over .env values, which win over defaults.
func Load() (Config, error) {
	// Missing .env is the normal case; godotenv never overrides variables
	// already set in the environment.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Engine.Backend {
	case "ollama":
	case "openai":
		if cfg.Engine.APIKey == "" {
			return fmt.Errorf("missing required config: API key for the openai backend. Set it via environment variable ESCUCHA_ENGINE_API_KEY")
		}
	default:
		return fmt.Errorf("unknown engine backend %q (want ollama or openai)", cfg.Engine.Backend)
	}

	if cfg.Chunking.MaxChars <= cfg.Chunking.OverlapChars {
		return fmt.Errorf("chunking.max_chars (%d) must exceed chunking.overlap_chars (%d)",
			cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars)
	}
	if cfg.Engine.EmbedDim <= 0 {
		return fmt.Errorf("engine.embed_dim must be positive, got %d", cfg.Engine.EmbedDim)
	}
	return nil
}
