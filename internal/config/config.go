package config

import (
	"log"
	"os"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode

	Port string

	GCPProjectID string
	GCPLocation  string
	ModelName    string

	StorageBackend string // "memory" or "firestore"
	UseMockLLM     bool   // true = use mock even on GCP

	// Voice transport (hosted call provider).
	VoiceAPIURL     string
	VoiceAPIKey     string
	VoiceWebhookKey string
	PrepWorkflowID  string
	ExamWorkflowID  string
	UseExternalEval bool

	JWTSecret string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

// Load reads all env vars and builds the config
func Load() *Config {
	modeStr := getEnv("DEFENSE_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	cfg := &Config{
		Mode: mode,

		Port: getEnv("DEFENSE_PORT", "8080"),

		GCPProjectID: getEnv("DEFENSE_GCP_PROJECT", ""),
		GCPLocation:  getEnv("DEFENSE_GCP_LOCATION", "us-central1"),
		ModelName:    getEnv("DEFENSE_MODEL_NAME", "gemini-2.5-flash"),

		StorageBackend: getEnv("DEFENSE_STORAGE_BACKEND", "memory"),
		UseMockLLM:     getBoolEnv("DEFENSE_USE_MOCK_LLM", mode == ModeLocal),

		VoiceAPIURL:     getEnv("DEFENSE_VOICE_API_URL", "https://api.vapi.ai"),
		VoiceAPIKey:     getEnv("DEFENSE_VOICE_API_KEY", ""),
		VoiceWebhookKey: getEnv("DEFENSE_VOICE_WEBHOOK_KEY", ""),
		PrepWorkflowID:  getEnv("DEFENSE_VOICE_PREP_WORKFLOW", ""),
		ExamWorkflowID:  getEnv("DEFENSE_VOICE_EXAM_WORKFLOW", ""),
		UseExternalEval: getBoolEnv("DEFENSE_USE_EXTERNAL_EVALUATOR", false),

		JWTSecret: getEnv("DEFENSE_JWT_SECRET", ""),
	}

	// Minimal validation in GCP mode
	if cfg.Mode == ModeGCP && cfg.GCPProjectID == "" {
		log.Fatal("DEFENSE_GCP_PROJECT must be set in gcp mode")
	}

	return cfg
}
