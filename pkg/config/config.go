package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Slip storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

type Config struct {
	Env  string
	Port int

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Payroll   PayrollConfig
	Statutory StatutoryConfig
	Slips     SlipConfig
	Filings   FilingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs the effective-structure lookup cache.
type CacheConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// PayrollConfig tunes run processing.
type PayrollConfig struct {
	StandardHoursPerDay    float64
	DefaultOTMultiplier    float64
	ComputeConcurrency     int
	RunLockTTL             time.Duration
	BankAdviceCurrencyCode string
}

// StatutoryConfig carries the statutory rates and thresholds. Slabs are
// encoded as "lower-upper:amount" entries separated by commas; an empty upper
// bound means open ended.
type StatutoryConfig struct {
	PFCeiling         float64
	PFEmployeeRate    float64
	PFEmployerRate    float64
	ESICThreshold     float64
	ESICEmployeeRate  float64
	ESICEmployerRate  float64
	PTSlabs           string
	MLWFEmployeeRate  float64
	MLWFEmployerRate  float64
	MLWFLowGrossLimit float64
	MLWFLowEmployee   float64
	MLWFLowEmployer   float64
}

// SlipConfig configures salary slip rendering and storage.
type SlipConfig struct {
	StorageDriver     string
	StorageDir        string
	S3Bucket          string
	S3Prefix          string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	CompanyName       string
}

// FilingConfig configures statutory filing workbook exports.
type FilingConfig struct {
	StorageDir string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("ENABLE_STRUCTURE_CACHE"),
		CacheTTL: parseDuration(v.GetString("STRUCTURE_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Payroll = PayrollConfig{
		StandardHoursPerDay:    v.GetFloat64("PAYROLL_STANDARD_HOURS_PER_DAY"),
		DefaultOTMultiplier:    v.GetFloat64("PAYROLL_DEFAULT_OT_MULTIPLIER"),
		ComputeConcurrency:     v.GetInt("PAYROLL_COMPUTE_CONCURRENCY"),
		RunLockTTL:             parseDuration(v.GetString("PAYROLL_RUN_LOCK_TTL"), 2*time.Minute),
		BankAdviceCurrencyCode: v.GetString("PAYROLL_CURRENCY"),
	}

	cfg.Statutory = StatutoryConfig{
		PFCeiling:         v.GetFloat64("PF_CEILING"),
		PFEmployeeRate:    v.GetFloat64("PF_EMPLOYEE_RATE"),
		PFEmployerRate:    v.GetFloat64("PF_EMPLOYER_RATE"),
		ESICThreshold:     v.GetFloat64("ESIC_THRESHOLD"),
		ESICEmployeeRate:  v.GetFloat64("ESIC_EMPLOYEE_RATE"),
		ESICEmployerRate:  v.GetFloat64("ESIC_EMPLOYER_RATE"),
		PTSlabs:           v.GetString("PT_SLABS"),
		MLWFEmployeeRate:  v.GetFloat64("MLWF_EMPLOYEE_RATE"),
		MLWFEmployerRate:  v.GetFloat64("MLWF_EMPLOYER_RATE"),
		MLWFLowGrossLimit: v.GetFloat64("MLWF_LOW_GROSS_LIMIT"),
		MLWFLowEmployee:   v.GetFloat64("MLWF_LOW_EMPLOYEE_RATE"),
		MLWFLowEmployer:   v.GetFloat64("MLWF_LOW_EMPLOYER_RATE"),
	}

	cfg.Slips = SlipConfig{
		StorageDriver:     strings.ToLower(v.GetString("SLIPS_STORAGE_DRIVER")),
		StorageDir:        v.GetString("SLIPS_STORAGE_DIR"),
		S3Bucket:          v.GetString("SLIPS_S3_BUCKET"),
		S3Prefix:          v.GetString("SLIPS_S3_PREFIX"),
		SignedURLSecret:   v.GetString("SLIPS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("SLIPS_SIGNED_URL_TTL"), 30*time.Minute),
		WorkerConcurrency: v.GetInt("SLIPS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("SLIPS_WORKER_RETRIES"),
		CompanyName:       v.GetString("SLIPS_COMPANY_NAME"),
	}

	cfg.Filings = FilingConfig{
		StorageDir: v.GetString("FILINGS_STORAGE_DIR"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "payroll")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_STRUCTURE_CACHE", true)
	v.SetDefault("STRUCTURE_CACHE_TTL", "15m")

	v.SetDefault("PAYROLL_STANDARD_HOURS_PER_DAY", 8)
	v.SetDefault("PAYROLL_DEFAULT_OT_MULTIPLIER", 1.5)
	v.SetDefault("PAYROLL_COMPUTE_CONCURRENCY", 4)
	v.SetDefault("PAYROLL_RUN_LOCK_TTL", "2m")
	v.SetDefault("PAYROLL_CURRENCY", "INR")

	v.SetDefault("PF_CEILING", 15000)
	v.SetDefault("PF_EMPLOYEE_RATE", 12)
	v.SetDefault("PF_EMPLOYER_RATE", 12)
	v.SetDefault("ESIC_THRESHOLD", 21000)
	v.SetDefault("ESIC_EMPLOYEE_RATE", 0.75)
	v.SetDefault("ESIC_EMPLOYER_RATE", 3.25)
	v.SetDefault("PT_SLABS", "0-7500:0,7500.01-10000:175,10000.01-:200")
	v.SetDefault("MLWF_EMPLOYEE_RATE", 0.2)
	v.SetDefault("MLWF_EMPLOYER_RATE", 0.6)
	v.SetDefault("MLWF_LOW_GROSS_LIMIT", 3000)
	v.SetDefault("MLWF_LOW_EMPLOYEE_RATE", 0.2)
	v.SetDefault("MLWF_LOW_EMPLOYER_RATE", 0.6)

	v.SetDefault("SLIPS_STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("SLIPS_STORAGE_DIR", "./slips")
	v.SetDefault("SLIPS_S3_BUCKET", "")
	v.SetDefault("SLIPS_S3_PREFIX", "slips")
	v.SetDefault("SLIPS_SIGNED_URL_SECRET", "dev_slips_secret")
	v.SetDefault("SLIPS_SIGNED_URL_TTL", "30m")
	v.SetDefault("SLIPS_WORKER_CONCURRENCY", 2)
	v.SetDefault("SLIPS_WORKER_RETRIES", 3)
	v.SetDefault("SLIPS_COMPANY_NAME", "Payroll")

	v.SetDefault("FILINGS_STORAGE_DIR", "./filings")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
