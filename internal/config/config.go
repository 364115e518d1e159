package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration provides type-safe access to application settings
type Configuration struct {
	viper *viper.Viper
}

// envBindings maps configuration keys to the environment variables that override them
var envBindings = map[string]string{
	"server.addr":              "SERVER_ADDR",
	"server.read_timeout":      "SERVER_READ_TIMEOUT",
	"server.max_upload_mb":     "MAX_UPLOAD_MB",
	"log.level":                "LOG_LEVEL",
	"log.format":               "LOG_FORMAT",
	"data.dir":                 "DATA_DIR",
	"data.protocol_types_file": "PROTOCOL_TYPES_FILE",
	"data.protocols_file":      "PROTOCOLS_FILE",
	"uploads.dir":              "UPLOADS_DIR",
	"audio.ffprobe_path":       "FFPROBE_PATH",
	"audio.ffmpeg_path":        "FFMPEG_PATH",
	"audio.probe_timeout":      "AUDIO_PROBE_TIMEOUT",
	"assemblyai.api_key":       "ASSEMBLYAI_API_KEY",
	"assemblyai.base_url":      "ASSEMBLYAI_BASE_URL",
	"assemblyai.poll_interval": "ASSEMBLYAI_POLL_INTERVAL",
	"assemblyai.timeout":       "ASSEMBLYAI_TIMEOUT",
	"diarization.url":          "DIARIZATION_URL",
	"diarization.timeout":      "DIARIZATION_TIMEOUT",
	"openai.api_key":           "OPENAI_API_KEY",
	"openai.base_url":          "OPENAI_BASE_URL",
	"openai.proxy_url":         "OPENAI_PROXY_URL",
	"openai.proxy_host":        "PROXY_HOST",
	"openai.proxy_port":        "PROXY_PORT",
	"openai.proxy_user":        "PROXY_USER",
	"openai.proxy_pass":        "PROXY_PASS",
	"openai.poll_interval":     "OPENAI_POLL_INTERVAL",
	"openai.timeout":           "OPENAI_TIMEOUT",
	"worker.count":             "WORKER_COUNT",
	"worker.queue_size":        "WORKER_QUEUE_SIZE",
	"worker.job_ttl":           "JOB_TTL",
	"health.file":              "HEALTH_FILE",
	"health.interval":          "HEALTH_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.max_upload_mb", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.protocol_types_file", "data/protocol_types.json")
	v.SetDefault("data.protocols_file", "data/protocols.json")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("audio.ffprobe_path", "ffprobe")
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.probe_timeout", "10s")
	v.SetDefault("assemblyai.api_key", "")
	v.SetDefault("assemblyai.base_url", "https://api.assemblyai.com")
	v.SetDefault("assemblyai.poll_interval", "3s")
	v.SetDefault("assemblyai.timeout", "5m")
	v.SetDefault("diarization.url", "")
	v.SetDefault("diarization.timeout", "5m")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.proxy_url", "")
	v.SetDefault("openai.proxy_host", "")
	v.SetDefault("openai.proxy_port", "")
	v.SetDefault("openai.proxy_user", "")
	v.SetDefault("openai.proxy_pass", "")
	v.SetDefault("openai.poll_interval", "2s")
	v.SetDefault("openai.timeout", "5m")
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 32)
	v.SetDefault("worker.job_ttl", "1h")
	v.SetDefault("health.file", "/tmp/protocolmaker-health.json")
	v.SetDefault("health.interval", "30s")
}

// NewConfiguration creates a new Configuration instance with default settings
func NewConfiguration() *Configuration {
	v := viper.New()
	setDefaults(v)
	return &Configuration{viper: v}
}

// NewConfigurationFromFile creates a Configuration instance from a config file
func NewConfigurationFromFile(configFile string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return &Configuration{viper: v}, nil
}

// NewConfigurationFromEnv creates a Configuration instance that reads from environment variables.
// A .env file in the working directory is loaded first when present.
func NewConfigurationFromEnv() (*Configuration, error) {
	return NewConfigurationFromEnvFile(".env")
}

// NewConfigurationFromEnvFile is NewConfigurationFromEnv with an explicit dotenv path
func NewConfigurationFromEnvFile(envFile string) (*Configuration, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROTOCOLMAKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return &Configuration{viper: v}, nil
}

// Validate checks settings that would make the service unusable
func (c *Configuration) Validate() error {
	if c.GetWorkerCount() <= 0 {
		return fmt.Errorf("worker.count must be positive, got %d", c.GetWorkerCount())
	}
	if c.GetWorkerQueueSize() <= 0 {
		return fmt.Errorf("worker.queue_size must be positive, got %d", c.GetWorkerQueueSize())
	}
	for _, key := range []string{"assemblyai.timeout", "assemblyai.poll_interval", "openai.timeout", "openai.poll_interval", "audio.probe_timeout", "worker.job_ttl"} {
		if c.viper.GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	if raw := c.GetOpenAIProxyURL(); raw != "" {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid proxy url: %w", err)
		}
	}
	return nil
}

// GetServerAddr returns the HTTP listen address
func (c *Configuration) GetServerAddr() string {
	return c.viper.GetString("server.addr")
}

// GetServerReadTimeout returns the HTTP read timeout
func (c *Configuration) GetServerReadTimeout() time.Duration {
	return c.viper.GetDuration("server.read_timeout")
}

// GetMaxUploadBytes returns the upload size limit in bytes
func (c *Configuration) GetMaxUploadBytes() int64 {
	return c.viper.GetInt64("server.max_upload_mb") << 20
}

// GetLogLevel returns the configured zap level name
func (c *Configuration) GetLogLevel() string {
	return c.viper.GetString("log.level")
}

// GetLogFormat returns the log encoding, "json" or "console"
func (c *Configuration) GetLogFormat() string {
	return c.viper.GetString("log.format")
}

// GetDataDir returns the directory holding persisted data
func (c *Configuration) GetDataDir() string {
	return c.viper.GetString("data.dir")
}

// GetProtocolTypesFile returns the path of the protocol type catalog
func (c *Configuration) GetProtocolTypesFile() string {
	return c.viper.GetString("data.protocol_types_file")
}

// GetProtocolsFile returns the path of the protocol record store
func (c *Configuration) GetProtocolsFile() string {
	return c.viper.GetString("data.protocols_file")
}

// GetUploadsDir returns where uploaded audio and transcript artifacts are written
func (c *Configuration) GetUploadsDir() string {
	return c.viper.GetString("uploads.dir")
}

// GetFFprobePath returns the ffprobe binary
func (c *Configuration) GetFFprobePath() string {
	return c.viper.GetString("audio.ffprobe_path")
}

// GetFFmpegPath returns the ffmpeg binary
func (c *Configuration) GetFFmpegPath() string {
	return c.viper.GetString("audio.ffmpeg_path")
}

// GetProbeTimeout returns the ffprobe time limit
func (c *Configuration) GetProbeTimeout() time.Duration {
	return c.viper.GetDuration("audio.probe_timeout")
}

// GetAssemblyAIKey returns the transcription API key
func (c *Configuration) GetAssemblyAIKey() string {
	return c.viper.GetString("assemblyai.api_key")
}

// GetAssemblyAIBaseURL returns the transcription API base URL
func (c *Configuration) GetAssemblyAIBaseURL() string {
	return c.viper.GetString("assemblyai.base_url")
}

// GetAssemblyAIPollInterval returns the first polling delay
func (c *Configuration) GetAssemblyAIPollInterval() time.Duration {
	return c.viper.GetDuration("assemblyai.poll_interval")
}

// GetAssemblyAITimeout returns the overall transcription deadline
func (c *Configuration) GetAssemblyAITimeout() time.Duration {
	return c.viper.GetDuration("assemblyai.timeout")
}

// GetDiarizationURL returns the optional diarization service URL
func (c *Configuration) GetDiarizationURL() string {
	return c.viper.GetString("diarization.url")
}

// GetDiarizationTimeout returns the request timeout for the diarization service
func (c *Configuration) GetDiarizationTimeout() time.Duration {
	return c.viper.GetDuration("diarization.timeout")
}

// GetOpenAIKey returns the LLM API key
func (c *Configuration) GetOpenAIKey() string {
	return c.viper.GetString("openai.api_key")
}

// GetOpenAIBaseURL returns an alternate LLM API base URL, if any
func (c *Configuration) GetOpenAIBaseURL() string {
	return c.viper.GetString("openai.base_url")
}

// GetOpenAIProxyURL returns the explicit proxy URL, or one assembled from host, port and credentials
func (c *Configuration) GetOpenAIProxyURL() string {
	if raw := c.viper.GetString("openai.proxy_url"); raw != "" {
		return raw
	}

	host := c.viper.GetString("openai.proxy_host")
	port := c.viper.GetString("openai.proxy_port")
	if host == "" || port == "" {
		return ""
	}

	u := url.URL{Scheme: "http", Host: host + ":" + port}
	if user := c.viper.GetString("openai.proxy_user"); user != "" {
		u.User = url.UserPassword(user, c.viper.GetString("openai.proxy_pass"))
	}
	return u.String()
}

// GetOpenAIPollInterval returns the first run polling delay
func (c *Configuration) GetOpenAIPollInterval() time.Duration {
	return c.viper.GetDuration("openai.poll_interval")
}

// GetOpenAITimeout returns the overall protocol generation deadline
func (c *Configuration) GetOpenAITimeout() time.Duration {
	return c.viper.GetDuration("openai.timeout")
}

// GetWorkerCount returns the number of concurrent transcription jobs
func (c *Configuration) GetWorkerCount() int {
	return c.viper.GetInt("worker.count")
}

// GetWorkerQueueSize returns how many jobs may wait for a worker
func (c *Configuration) GetWorkerQueueSize() int {
	return c.viper.GetInt("worker.queue_size")
}

// GetJobTTL returns how long finished job statuses stay queryable
func (c *Configuration) GetJobTTL() time.Duration {
	return c.viper.GetDuration("worker.job_ttl")
}

// GetHealthFile returns the path of the heartbeat health file
func (c *Configuration) GetHealthFile() string {
	return c.viper.GetString("health.file")
}

// GetHealthInterval returns the heartbeat period
func (c *Configuration) GetHealthInterval() time.Duration {
	return c.viper.GetDuration("health.interval")
}
