package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every subsystem's settings.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Gemini  GeminiConfig
	Capture CaptureConfig
	Storage StorageConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Gemini:  loadGeminiConfig(),
		Capture: loadCaptureConfig(),
		Storage: storage,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig holds the chat-model credentials used for reply generation,
// sentiment analysis and translation.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials: provide ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// GeminiConfig holds the credentials and model names of the multi-modal
// analysis and generation backend. Model names left empty fall back to the
// gateway's defaults.
type GeminiConfig struct {
	APIKey        string
	AnalysisModel string
	SpeechModel   string
	ImageModel    string
	VideoModel    string
	FemaleVoice   string
	MaleVoice     string
	PollInterval  time.Duration
	VideoMaxWait  time.Duration
}

// Enabled reports whether media analysis and generation can run.
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadGeminiConfig() GeminiConfig {
	return GeminiConfig{
		APIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		AnalysisModel: getEnvOrDefault("GEMINI_ANALYSIS_MODEL", ""),
		SpeechModel:   getEnvOrDefault("GEMINI_SPEECH_MODEL", ""),
		ImageModel:    getEnvOrDefault("GEMINI_IMAGE_MODEL", ""),
		VideoModel:    getEnvOrDefault("GEMINI_VIDEO_MODEL", ""),
		FemaleVoice:   getEnvOrDefault("GEMINI_FEMALE_VOICE", ""),
		MaleVoice:     getEnvOrDefault("GEMINI_MALE_VOICE", ""),
		PollInterval:  durationEnvOrDefault("GEMINI_VIDEO_POLL_INTERVAL", 0),
		VideoMaxWait:  durationEnvOrDefault("GEMINI_VIDEO_MAX_WAIT", 0),
	}
}

// CaptureConfig bounds live microphone and camera sessions.
type CaptureConfig struct {
	AudioMaxDuration time.Duration
	FaceSettleDelay  time.Duration
}

func loadCaptureConfig() CaptureConfig {
	return CaptureConfig{
		AudioMaxDuration: durationEnvOrDefault("CAPTURE_AUDIO_MAX_DURATION", 5*time.Second),
		FaceSettleDelay:  durationEnvOrDefault("CAPTURE_FACE_SETTLE_DELAY", 500*time.Millisecond),
	}
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	Dir      string
	InMemory bool
}

func loadStorageConfig() (StorageConfig, error) {
	inMemory, err := parseBoolEnv("STORAGE_IN_MEMORY", false)
	if err != nil {
		return StorageConfig{}, err
	}

	dir := getEnvOrDefault("STORAGE_DIR", "data")
	if inMemory {
		dir = ""
	}

	return StorageConfig{Dir: dir, InMemory: inMemory}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func durationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring invalid %s value %q: %v\n", key, raw, err)
		return defaultValue
	}
	return val
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
