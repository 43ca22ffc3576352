// Package config holds the proctoring AI service's process-wide settings.
//
// Config is loaded once at startup: defaults are overlaid with an optional
// YAML file, then with environment variables, then derived fields (broker
// and store connection URLs) are filled in where left blank. The resulting
// Config is immutable for the lifetime of the process and is handed by
// reference to every consumer and collaborator.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Proctoring AI Service - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Behavior   BehaviorConfig   `yaml:"behavior"`
	Models     ModelsConfig     `yaml:"models"`
	HTTP       HTTPConfig       `yaml:"http"`
	Redis      RedisConfig      `yaml:"redis"`
}

// BrokerConfig describes the RabbitMQ connection and topology this service
// consumes from / publishes to. All queue and exchange names are owned by
// an external service (see spec §4.1 passive queue assertion); they are
// configurable here only so tests and alternate deployments can override
// them, never so this service can (re)declare them with different shapes.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	URL      string `yaml:"url"` // set directly (amqp://...) OR derived below

	ExchangeName       string `yaml:"exchange_name"`
	FrameQueue         string `yaml:"frame_queue"`
	AudioQueue         string `yaml:"audio_queue"`
	BehaviorQueue      string `yaml:"behavior_queue"`
	ResultsRoutingKey  string `yaml:"results_routing_key"`
	ReconnectDelaySec  int    `yaml:"reconnect_delay_sec"`
	PrefetchCount      int    `yaml:"prefetch_count"`
	HeartbeatSec       int    `yaml:"heartbeat_sec"`
	BlockedTimeoutSec  int    `yaml:"blocked_timeout_sec"`
	PublishRetryCount  int    `yaml:"publish_retry_count"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	URL      string `yaml:"url"` // set directly OR derived below
}

// StoreConfig configures the Supabase-backed object store client.
type StoreConfig struct {
	URL               string `yaml:"url"`
	ServiceKey        string `yaml:"service_key"`
	SnapshotsBucket   string `yaml:"snapshots_bucket"`
	ProfilePhotoBucket string `yaml:"profile_photo_bucket"`
}

// ThresholdsConfig holds every per-modality and global tunable named in
// spec.md §6.
type ThresholdsConfig struct {
	FaceConfidence float64 `yaml:"face_confidence"`
	GazeYaw        float64 `yaml:"gaze_yaw"`
	GazePitch      float64 `yaml:"gaze_pitch"`
	LipDistance    float64 `yaml:"lip_distance"`
	PhoneConf      float64 `yaml:"phone_conf"`
	NotesConf      float64 `yaml:"notes_conf"`
	SpeechRatio    float64 `yaml:"speech_ratio"`

	HighRisk float64 `yaml:"high_risk"`
	Critical float64 `yaml:"critical"`

	FaceMatchThreshold float64 `yaml:"face_match_threshold"`
}

type BehaviorConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Capacity      int `yaml:"capacity"`
	SessionTTLSec int `yaml:"session_ttl_sec"`
	SweepInterval int `yaml:"sweep_interval_sec"`
}

// ModelsConfig names the addresses of the external ML collaborators
// (spec.md §4.7, §1 — out of scope implementations, in-scope readiness
// contract). An empty address means the capability is unavailable.
type ModelsConfig struct {
	ObjectDetectorAddr     string `yaml:"object_detector_addr"`
	BehaviorClassifierAddr string `yaml:"behavior_classifier_addr"`
	FaceEncoderAddr        string `yaml:"face_encoder_addr"`
	FaceMeshAddr           string `yaml:"face_mesh_addr"`
	VADAddr                string `yaml:"vad_addr"`
	DialTimeoutSec         int    `yaml:"dial_timeout_sec"`
}

type HTTPConfig struct {
	Port string `yaml:"port"`
}

type RedisConfig struct {
	Addr                     string `yaml:"addr"`
	VerifyIdentityRatePerMin int    `yaml:"verify_identity_rate_per_min"`
}

// LoadConfig reads an optional YAML file at path (ignored if empty or
// missing), then overlays environment variables, then fills in derived
// fields and defaults. Returns an error for a configuration that cannot
// be made valid — callers must abort startup rather than run degraded
// (spec.md §7, Fatal class).
func LoadConfig(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyEnvOverrides() {
	c.Broker.Host = getEnv("RABBITMQ_HOST", c.Broker.Host)
	c.Broker.Port = getEnvInt("RABBITMQ_PORT", c.Broker.Port)
	c.Broker.User = getEnv("RABBITMQ_USER", c.Broker.User)
	c.Broker.Password = getEnv("RABBITMQ_PASSWORD", c.Broker.Password)
	c.Broker.VHost = getEnv("RABBITMQ_VHOST", c.Broker.VHost)
	c.Broker.URL = getEnv("RABBITMQ_URL", c.Broker.URL)
	c.Broker.ExchangeName = getEnv("EXCHANGE_NAME", c.Broker.ExchangeName)
	c.Broker.FrameQueue = getEnv("FRAME_QUEUE", c.Broker.FrameQueue)
	c.Broker.AudioQueue = getEnv("AUDIO_QUEUE", c.Broker.AudioQueue)
	c.Broker.BehaviorQueue = getEnv("BEHAVIOR_QUEUE", c.Broker.BehaviorQueue)
	c.Broker.ResultsRoutingKey = getEnv("RESULTS_ROUTING_KEY", c.Broker.ResultsRoutingKey)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)

	c.Store.URL = getEnv("SUPABASE_URL", c.Store.URL)
	c.Store.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Store.ServiceKey)
	c.Store.SnapshotsBucket = getEnv("SNAPSHOTS_BUCKET", c.Store.SnapshotsBucket)
	c.Store.ProfilePhotoBucket = getEnv("PROFILE_PHOTO_BUCKET", c.Store.ProfilePhotoBucket)

	if v := getEnvFloat("FACE_CONFIDENCE_THRESHOLD", -1); v >= 0 {
		c.Thresholds.FaceConfidence = v
	}
	if v := getEnvFloat("GAZE_YAW_THRESHOLD", -1); v >= 0 {
		c.Thresholds.GazeYaw = v
	}
	if v := getEnvFloat("GAZE_PITCH_THRESHOLD", -1); v >= 0 {
		c.Thresholds.GazePitch = v
	}
	if v := getEnvFloat("LIP_DISTANCE_THRESHOLD", -1); v >= 0 {
		c.Thresholds.LipDistance = v
	}
	if v := getEnvFloat("PHONE_CONFIDENCE_THRESHOLD", -1); v >= 0 {
		c.Thresholds.PhoneConf = v
	}
	if v := getEnvFloat("NOTES_CONFIDENCE_THRESHOLD", -1); v >= 0 {
		c.Thresholds.NotesConf = v
	}
	if v := getEnvFloat("SPEECH_RATIO_THRESHOLD", -1); v >= 0 {
		c.Thresholds.SpeechRatio = v
	}
	if v := getEnvFloat("HIGH_RISK_THRESHOLD", -1); v >= 0 {
		c.Thresholds.HighRisk = v
	}
	if v := getEnvFloat("CRITICAL_THRESHOLD", -1); v >= 0 {
		c.Thresholds.Critical = v
	}
	if v := getEnvFloat("FACE_RECOGNITION_THRESHOLD", -1); v >= 0 {
		c.Thresholds.FaceMatchThreshold = v
	}

	if v := getEnvInt("BEHAVIOR_WINDOW_SECONDS", 0); v > 0 {
		c.Behavior.WindowSeconds = v
	}
	if v := getEnvInt("BEHAVIOR_WINDOW_CAPACITY", 0); v > 0 {
		c.Behavior.Capacity = v
	}
	if v := getEnvInt("BEHAVIOR_SESSION_TTL_SEC", 0); v > 0 {
		c.Behavior.SessionTTLSec = v
	}

	c.Models.ObjectDetectorAddr = getEnv("OBJECT_DETECTOR_ADDR", c.Models.ObjectDetectorAddr)
	c.Models.BehaviorClassifierAddr = getEnv("BEHAVIOR_CLASSIFIER_ADDR", c.Models.BehaviorClassifierAddr)
	c.Models.FaceEncoderAddr = getEnv("FACE_ENCODER_ADDR", c.Models.FaceEncoderAddr)
	c.Models.FaceMeshAddr = getEnv("FACE_MESH_ADDR", c.Models.FaceMeshAddr)
	c.Models.VADAddr = getEnv("VAD_ADDR", c.Models.VADAddr)

	c.HTTP.Port = getEnv("PORT", c.HTTP.Port)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	if v := getEnvInt("VERIFY_IDENTITY_RATE_PER_MIN", 0); v > 0 {
		c.Redis.VerifyIdentityRatePerMin = v
	}
}

// applyDefaults sets sensible defaults for zero-valued config fields and
// fills in derived connection URLs, mirroring the Python
// Settings._fill_derived_urls post-init hook this service was modeled on.
func (c *Config) applyDefaults() {
	if c.Broker.Host == "" {
		c.Broker.Host = "rabbitmq"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 5672
	}
	if c.Broker.User == "" {
		c.Broker.User = "examuser"
	}
	if c.Broker.VHost == "" {
		c.Broker.VHost = "/"
	}
	if c.Broker.ExchangeName == "" {
		c.Broker.ExchangeName = "proctoring.exchange"
	}
	if c.Broker.FrameQueue == "" {
		c.Broker.FrameQueue = "frame.analysis"
	}
	if c.Broker.AudioQueue == "" {
		c.Broker.AudioQueue = "audio.analysis"
	}
	if c.Broker.BehaviorQueue == "" {
		c.Broker.BehaviorQueue = "behavior.events"
	}
	if c.Broker.ResultsRoutingKey == "" {
		c.Broker.ResultsRoutingKey = "proctoring.results"
	}
	if c.Broker.ReconnectDelaySec == 0 {
		c.Broker.ReconnectDelaySec = 5
	}
	if c.Broker.PrefetchCount == 0 {
		c.Broker.PrefetchCount = 1
	}
	if c.Broker.HeartbeatSec == 0 {
		c.Broker.HeartbeatSec = 60
	}
	if c.Broker.BlockedTimeoutSec == 0 {
		c.Broker.BlockedTimeoutSec = 30
	}
	if c.Broker.PublishRetryCount == 0 {
		c.Broker.PublishRetryCount = 2
	}
	if c.Broker.URL == "" {
		c.Broker.URL = fmt.Sprintf("amqp://%s:%s@%s:%d%s",
			c.Broker.User, c.Broker.Password, c.Broker.Host, c.Broker.Port, c.Broker.VHost)
	}

	if c.Database.Host == "" {
		c.Database.Host = "postgres"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "examdb"
	}
	if c.Database.User == "" {
		c.Database.User = "examuser"
	}
	if c.Database.URL == "" {
		c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name)
	}

	if c.Store.SnapshotsBucket == "" {
		c.Store.SnapshotsBucket = "proctoring-snapshots"
	}
	if c.Store.ProfilePhotoBucket == "" {
		c.Store.ProfilePhotoBucket = "profile-photos"
	}

	if c.Thresholds.FaceConfidence == 0 {
		c.Thresholds.FaceConfidence = 0.5
	}
	if c.Thresholds.GazeYaw == 0 {
		c.Thresholds.GazeYaw = 25.0
	}
	if c.Thresholds.GazePitch == 0 {
		c.Thresholds.GazePitch = 25.0
	}
	if c.Thresholds.LipDistance == 0 {
		c.Thresholds.LipDistance = 0.06
	}
	if c.Thresholds.PhoneConf == 0 {
		c.Thresholds.PhoneConf = 0.50
	}
	if c.Thresholds.NotesConf == 0 {
		c.Thresholds.NotesConf = 0.55
	}
	if c.Thresholds.SpeechRatio == 0 {
		c.Thresholds.SpeechRatio = 0.20
	}
	if c.Thresholds.HighRisk == 0 {
		c.Thresholds.HighRisk = 0.75
	}
	if c.Thresholds.Critical == 0 {
		c.Thresholds.Critical = 0.90
	}
	if c.Thresholds.FaceMatchThreshold == 0 {
		c.Thresholds.FaceMatchThreshold = 0.6
	}

	if c.Behavior.WindowSeconds == 0 {
		c.Behavior.WindowSeconds = 300
	}
	if c.Behavior.Capacity == 0 {
		c.Behavior.Capacity = 50
	}
	if c.Behavior.SessionTTLSec == 0 {
		c.Behavior.SessionTTLSec = 2 * 60 * 60
	}
	if c.Behavior.SweepInterval == 0 {
		c.Behavior.SweepInterval = 60
	}

	if c.Models.DialTimeoutSec == 0 {
		c.Models.DialTimeoutSec = 3
	}

	if c.HTTP.Port == "" {
		c.HTTP.Port = "8001"
	}

	if c.Redis.VerifyIdentityRatePerMin == 0 {
		c.Redis.VerifyIdentityRatePerMin = 30
	}
}

func (c *Config) validate() error {
	if c.Thresholds.HighRisk <= 0 || c.Thresholds.HighRisk > 1 {
		return fmt.Errorf("thresholds.high_risk must be in (0,1], got %v", c.Thresholds.HighRisk)
	}
	if c.Thresholds.Critical <= 0 || c.Thresholds.Critical > 1 {
		return fmt.Errorf("thresholds.critical must be in (0,1], got %v", c.Thresholds.Critical)
	}
	if c.Thresholds.Critical < c.Thresholds.HighRisk {
		return fmt.Errorf("thresholds.critical (%v) must be >= thresholds.high_risk (%v)",
			c.Thresholds.Critical, c.Thresholds.HighRisk)
	}
	if c.Behavior.Capacity <= 0 {
		return fmt.Errorf("behavior.capacity must be positive, got %d", c.Behavior.Capacity)
	}
	if c.Broker.PrefetchCount != 1 {
		return fmt.Errorf("broker.prefetch_count must be 1 (spec requires one unacked message per consumer), got %d", c.Broker.PrefetchCount)
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
