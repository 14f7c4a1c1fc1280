// Пакет config читает настройки сервера из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// имена переменных окружения
const (
	PortEnv           = "LUMINA_PORT"
	DBDriverEnv       = "DB_DRIVER"
	DBURLEnv          = "DB_URL"
	JWTSecretEnv      = "JWT_SECRET"
	JWTTTLEnv         = "JWT_TTL"
	ServerURLEnv      = "SERVER_URL"
	ClientURLEnv      = "CLIENT_URL"
	MediaBackendEnv   = "MEDIA_BACKEND"
	UploadsDirEnv     = "UPLOADS_DIR"
	GCSBucketEnv      = "GCS_BUCKET"
	GCSCredentialsEnv = "GCS_CREDENTIALS"
	S3BucketEnv       = "S3_BUCKET"
	S3RegionEnv       = "S3_REGION"
	BannedWordsEnv    = "BANNED_WORDS"
	RateLimitRPSEnv   = "RATE_LIMIT_RPS"
	RateLimitBurstEnv = "RATE_LIMIT_BURST"
)

// поддерживаемые хранилища
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	MediaDisk = "disk"
	MediaGCS  = "gcs"
	MediaS3   = "s3"
)

// Config - настройки сервера.
type Config struct {
	Port      string
	DBDriver  string
	DBURL     string
	JWTSecret string
	JWTTTL    time.Duration
	ServerURL string // публичный адрес сервера, используется в ссылках на файлы
	ClientURL string // разрешенный CORS-источник

	Media struct {
		Backend        string
		UploadsDir     string
		GCSBucket      string
		GCSCredentials string
		S3Bucket       string
		S3Region       string
	}

	BannedWords    string
	RateLimitRPS   float64 // 0 - без ограничения
	RateLimitBurst int
}

// Load загружает переменные из файлов files (если они есть)
// и собирает из окружения [Config].
func Load(files ...string) (Config, error) {
	// переменные можно найти не только в файле
	_ = godotenv.Load(files...)

	em, err := envs(DBURLEnv, JWTSecretEnv)
	if err != nil {
		return Config{}, err
	}

	var c Config
	c.DBURL = em[DBURLEnv]
	c.JWTSecret = em[JWTSecretEnv]
	c.Port = getEnv(PortEnv, ":5000")
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	c.DBDriver = strings.ToLower(getEnv(DBDriverEnv, DriverSQLite))
	c.ServerURL = strings.TrimSuffix(getEnv(ServerURLEnv, "http://localhost"+c.Port), "/")
	c.ClientURL = getEnv(ClientURLEnv, "http://localhost:5173")

	c.Media.Backend = strings.ToLower(getEnv(MediaBackendEnv, MediaDisk))
	c.Media.UploadsDir = getEnv(UploadsDirEnv, "uploads")
	c.Media.GCSBucket = getEnv(GCSBucketEnv, "")
	c.Media.GCSCredentials = getEnv(GCSCredentialsEnv, "")
	c.Media.S3Bucket = getEnv(S3BucketEnv, "")
	c.Media.S3Region = getEnv(S3RegionEnv, "us-east-1")

	c.BannedWords = getEnv(BannedWordsEnv, "")

	var errs error
	c.JWTTTL, err = time.ParseDuration(getEnv(JWTTTLEnv, "168h"))
	errs = multierr.Append(errs, envErr(JWTTTLEnv, err))
	c.RateLimitRPS, err = strconv.ParseFloat(getEnv(RateLimitRPSEnv, "0"), 64)
	errs = multierr.Append(errs, envErr(RateLimitRPSEnv, err))
	c.RateLimitBurst, err = strconv.Atoi(getEnv(RateLimitBurstEnv, "20"))
	errs = multierr.Append(errs, envErr(RateLimitBurstEnv, err))
	errs = multierr.Append(errs, c.check())

	if errs != nil {
		return Config{}, errs
	}
	return c, nil
}

func (c Config) check() error {
	var errs error
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown %s %q", DBDriverEnv, c.DBDriver))
	}
	switch c.Media.Backend {
	case MediaDisk:
	case MediaGCS:
		if c.Media.GCSBucket == "" {
			errs = multierr.Append(errs, fmt.Errorf("environment variable %q must be set", GCSBucketEnv))
		}
	case MediaS3:
		if c.Media.S3Bucket == "" {
			errs = multierr.Append(errs, fmt.Errorf("environment variable %q must be set", S3BucketEnv))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown %s %q", MediaBackendEnv, c.Media.Backend))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 1 {
		errs = multierr.Append(errs, fmt.Errorf("invalid rate limit %v/%d", c.RateLimitRPS, c.RateLimitBurst))
	}
	return errs
}

func envErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("parsing %s: %w", name, err)
}

// envs собирает ожидаемые переменные окружения,
// возвращает ошибку, если какая-либо из переменных env не задана.
func envs(envs ...string) (map[string]string, error) {
	em := make(map[string]string, len(envs))
	var ok bool
	for _, env := range envs {
		if em[env], ok = os.LookupEnv(env); !ok || em[env] == "" {
			return nil, fmt.Errorf("environment variable %q must be set", env)
		}
	}
	return em, nil
}

// getEnv возвращает значение переменной или fallback.
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
