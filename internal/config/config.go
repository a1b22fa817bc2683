package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AIConfig AIConfigSource
	AI       AIConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	source, err := loadAIConfigSource()
	if err != nil {
		return nil, err
	}

	ai := loadAIConfig()

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AIConfig: source,
		AI:       ai,
		Metrics:  MetricsConfig{Enabled: metricsEnabled},
		Log:      logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr      string
	StaticDir string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	staticDir := strings.TrimSpace(os.Getenv("STATIC_DIR"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, StaticDir: staticDir}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, StaticDir: staticDir}, nil
}

// AIConfigSource 描述 AI Config 的来源：LaunchDarkly 或本地 YAML 文件。
type AIConfigSource struct {
	SDKKey         string
	ChatConfigKey  string
	JudgeConfigKey string
	InitTimeout    time.Duration
	File           string
}

// UseLaunchDarkly 表示是否配置了 LaunchDarkly SDK key。
func (c AIConfigSource) UseLaunchDarkly() bool {
	return c.SDKKey != ""
}

func loadAIConfigSource() (AIConfigSource, error) {
	timeout, err := parseDurationEnv("LAUNCHDARKLY_INIT_TIMEOUT", 5*time.Second)
	if err != nil {
		return AIConfigSource{}, err
	}

	source := AIConfigSource{
		SDKKey:         strings.TrimSpace(os.Getenv("LAUNCHDARKLY_SDK_KEY")),
		ChatConfigKey:  getEnvOrDefault("LAUNCHDARKLY_AI_CONFIG_KEY", "chat-assistant-config"),
		JudgeConfigKey: getEnvOrDefault("LAUNCHDARKLY_JUDGE_CONFIG_KEY", "ld-ai-judge-accuracy"),
		InitTimeout:    timeout,
		File:           strings.TrimSpace(os.Getenv("AI_CONFIG_FILE")),
	}
	if !source.UseLaunchDarkly() && source.File == "" {
		return AIConfigSource{}, fmt.Errorf("LAUNCHDARKLY_SDK_KEY or AI_CONFIG_FILE environment variable is required")
	}
	return source, nil
}

// AIConfig 描述推理服务 (Ark) 的凭证与连接配置。模型名由 AI Config 逐会话决定。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	DefaultModel string
	BaseURL      string
	Region       string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证缺失，至少提供 ARK_API_KEY 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.DefaultModel,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() AIConfig {
	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		DefaultModel: strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool
}

// LogConfig 描述日志级别。
type LogConfig struct {
	Level slog.Level
}

func loadLogConfig() (LogConfig, error) {
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return LogConfig{Level: level}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
