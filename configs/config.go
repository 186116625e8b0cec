package configs

import (
	"fmt"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"log"
	"os"
	"time"
)

type Config struct {
	ServerPort                 string `envconfig:"SERVER_PORT" default:"8080"`
	ServerTimeOutInSeconds     int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5"`
	RemoteCallTimeOutInSeconds int64  `envconfig:"REMOTE_CALL_TIME_OUT_IN_SECONDS" default:"0"`
	DefaultTargetPath          string `envconfig:"DEFAULT_TARGET_PATH" default:"/bulk_transfer"`
	DefaultShareExpiryDays     int    `envconfig:"DEFAULT_SHARE_EXPIRY_DAYS" default:"7"`
	Database                   DatabaseConfig
	RedisConfig                RedisConfig
	Pan                        PanConfig
	Throttle                   ThrottleConfig
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	DatabaseTest string `envconfig:"DB_DATABASE_TEST"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"1"`
}

type RedisConfig struct {
	Username          string `envconfig:"REDIS_USERNAME"`
	Password          string `envconfig:"REDIS_PASSWORD"`
	Host              string `envconfig:"REDIS_HOST"`
	Port              string `envconfig:"REDIS_PORT"`
	DBIndex           int32  `envconfig:"REDIS_DB_INDEX"`
	SessionTTLInHours int64  `envconfig:"REDIS_SESSION_TTL_IN_HOURS" default:"72"`
}

// PanConfig points the remote client at the storage service's web endpoints.
type PanConfig struct {
	BaseURL   string `envconfig:"PAN_BASE_URL" default:"https://pan.baidu.com"`
	UserAgent string `envconfig:"PAN_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64)"`
	Account   string `envconfig:"PAN_ACCOUNT" default:"default"`
}

// ThrottleConfig drives the shared rate limiter. The remote service enforces
// undocumented anti-abuse limits, so every knob is tunable at deploy time.
type ThrottleConfig struct {
	JitterMsMin            int `envconfig:"THROTTLE_JITTER_MS_MIN" default:"500"`
	JitterMsMax            int `envconfig:"THROTTLE_JITTER_MS_MAX" default:"1500"`
	OpsPerWindow           int `envconfig:"THROTTLE_OPS_PER_WINDOW" default:"50"`
	WindowSec              int `envconfig:"THROTTLE_WINDOW_SEC" default:"60"`
	WindowRestSec          int `envconfig:"THROTTLE_WINDOW_REST_SEC" default:"20"`
	MaxConsecutiveFailures int `envconfig:"THROTTLE_MAX_CONSECUTIVE_FAILURES" default:"5"`
	PauseSecOnFailure      int `envconfig:"THROTTLE_PAUSE_SEC_ON_FAILURE" default:"60"`
	CooldownOnOverrunSec   int `envconfig:"THROTTLE_COOLDOWN_ON_OVERRUN_SEC" default:"120"`
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToTestMigrationUri returns a string specifically for the migration package with the right prefix for test database
func (d DatabaseConfig) ToTestMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DatabaseTest,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToTestDBConnectionUri returns a string specifically for running the integration tests
func (d DatabaseConfig) ToTestDBConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DatabaseTest,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

// SessionTTL returns how long a cached login cookie stays valid in Redis.
func (d RedisConfig) SessionTTL() time.Duration {
	return time.Duration(d.SessionTTLInHours) * time.Hour
}

// RemoteCallTimeout returns the per-call deadline applied to remote
// operations. Zero disables the deadline and lets a stuck call block its
// worker, which matches the historical behavior of the tool.
func (c *Config) RemoteCallTimeout() time.Duration {
	return time.Duration(c.RemoteCallTimeOutInSeconds) * time.Second
}

func InitConfig() *Config {
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Unable to load .env %v", err)
	}

	var cfg Config
	err = envconfig.Process("", &cfg)
	if err != nil {
		fmt.Print("Cannot load env")
	}

	return &cfg
}
