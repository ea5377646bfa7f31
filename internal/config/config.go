package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Postgres    DBConfig
	Redis       RedisConfig
	ObjectStore ObjectStoreConfig
	Logger      Logger
	Queue       QueueConfig
	Worker      WorkerConfig
	Transcode   TranscodeConfig
	Notify      NotifyConfig
	Reconciler  ReconcilerConfig
}

type ServerConfig struct {
	AppVersion    string
	Port          string
	Mode          string
	JwtSecretKey  string
	MaxUploadMB   int64
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	// UploadTimeout bounds a single upload request end to end.
	UploadTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	PgDriver string
}

type RedisConfig struct {
	RedisAddr     string
	RedisPassword string
	DB            int
	MinIdleConns  int
	PoolSize      int
	PoolTimeout   int
	UseTLS        bool
}

type ObjectStoreConfig struct {
	Provider         string
	Endpoint         string
	Region           string
	AccessKey        string
	SecretKey        string
	UseSSL           bool
	OriginalBucket   string
	TranscodedBucket string
	PublicBaseURL    string
	CredentialsFile  string
}

type Logger struct {
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
	Encoding          string
	Level             string
}

type QueueConfig struct {
	Prefix            string
	Attempts          int
	BackoffBase       time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

type WorkerConfig struct {
	Resolution       string
	Instances        int
	ScratchDir       string
	MaxCPUUsage      float64
	CPUCheckInterval time.Duration
	CgroupPath       string
	CPUShares        uint64
	FFmpegPath       string
	FFprobePath      string
	Preset           string
}

type TranscodeConfig struct {
	Resolutions []string
}

type NotifyConfig struct {
	RedisChannel string
	WebhookURL   string
	Timeout      time.Duration
}

type ReconcilerConfig struct {
	Enabled   bool
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.appversion", "dev")
	v.SetDefault("server.jwtsecretkey", "")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.maxuploadmb", 500)
	v.SetDefault("server.readtimeout", 30*time.Second)
	v.SetDefault("server.writetimeout", 30*time.Second)
	v.SetDefault("server.uploadtimeout", 15*time.Minute)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.name", "video_transcoding")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.pgdriver", "pgx")

	v.SetDefault("redis.redisaddr", "localhost:6379")
	v.SetDefault("redis.redispassword", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.usetls", false)
	v.SetDefault("redis.poolsize", 10)
	v.SetDefault("redis.pooltimeout", 4)

	v.SetDefault("objectstore.provider", "minio")
	v.SetDefault("objectstore.endpoint", "localhost:9000")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.accesskey", "")
	v.SetDefault("objectstore.secretkey", "")
	v.SetDefault("objectstore.usessl", false)
	v.SetDefault("objectstore.publicbaseurl", "")
	v.SetDefault("objectstore.credentialsfile", "")
	v.SetDefault("objectstore.originalbucket", "original")
	v.SetDefault("objectstore.transcodedbucket", "transcoded")

	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)

	v.SetDefault("queue.prefix", "tq")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoffbase", 5*time.Second)
	v.SetDefault("queue.visibilitytimeout", 2*time.Minute)
	v.SetDefault("queue.pollinterval", 500*time.Millisecond)

	v.SetDefault("worker.resolution", "")
	v.SetDefault("worker.instances", 1)
	v.SetDefault("worker.scratchdir", "")
	v.SetDefault("worker.cgrouppath", "")
	v.SetDefault("worker.maxcpuusage", 80.0)
	v.SetDefault("worker.cpucheckinterval", 10*time.Second)
	v.SetDefault("worker.cpushares", 512)
	v.SetDefault("worker.ffmpegpath", "ffmpeg")
	v.SetDefault("worker.ffprobepath", "ffprobe")
	v.SetDefault("worker.preset", "medium")

	v.SetDefault("transcode.resolutions", []string{"360p", "720p", "1080p"})

	v.SetDefault("notify.redischannel", "transcoding:events")
	v.SetDefault("notify.webhookurl", "")
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", time.Minute)
	v.SetDefault("reconciler.grace", 5*time.Minute)
	v.SetDefault("reconciler.batchsize", 100)
}

// LoadConfig reads filename when it exists and layers defaults and the
// environment under it. A missing file is not an error.
func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filename)
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFound) || errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1, got %d", c.Queue.Attempts)
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return errors.New("queue.visibilitytimeout must be positive")
	}
	if c.Queue.BackoffBase < 0 {
		return errors.New("queue.backoffbase must not be negative")
	}
	if len(c.Transcode.Resolutions) == 0 {
		return errors.New("transcode.resolutions must not be empty")
	}
	switch c.ObjectStore.Provider {
	case "s3", "minio", "gcs":
	default:
		return fmt.Errorf("unsupported objectstore.provider %q", c.ObjectStore.Provider)
	}
	if c.Worker.Instances < 0 {
		return errors.New("worker.instances must not be negative")
	}
	return nil
}
