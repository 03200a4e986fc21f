package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Browser   BrowserConfig
	Collector CollectorConfig
	Filter    FilterConfig
	Engine    EngineConfig
	Pipeline  PipelineConfig
	Paths     PathsConfig
	OTel      OTelConfig
	Env       string
}

type BrowserConfig struct {
	// Headful runs the browser with a visible window. The apply flow
	// targets a real job board, so headful is the default.
	Headful     bool
	BaseURL     string
	LoadTimeout time.Duration
}

type CollectorConfig struct {
	JobNames    []string
	Locations   []string
	Limit       int
	TargetIndex int
	MaxLoopTime time.Duration
	SleepMin    time.Duration
	SleepMax    time.Duration
}

type FilterConfig struct {
	Keywords []string
	Limit    int
	FailFast bool
	ShortMin time.Duration
	ShortMax time.Duration
	LongMin  time.Duration
	LongMax  time.Duration
}

type EngineConfig struct {
	IntroText        string
	FailFast         bool
	Limit            int
	AllowCookieClick bool
	ShortMin         time.Duration
	ShortMax         time.Duration
	LongMin          time.Duration
	LongMax          time.Duration
}

type PipelineConfig struct {
	Seq        string
	Sleep      time.Duration
	KeepGoing  bool
	ForceLogin bool
	CronSpec   string
}

type PathsConfig struct {
	DataDir     string
	Links       string
	Filtered    string
	Manual      string
	StorageFile string
	StateFile   string
	ErrorsDir   string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Load reads configuration from environment variables. In development
// it loads .env first so local runs need no exported environment.
func Load() (Config, error) {
	if getEnv("APPLYPILOT_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	dataDir := getEnv("DATA_DIR", "data")
	cfg := Config{
		Env: getEnv("APPLYPILOT_ENV", "development"),
		Browser: BrowserConfig{
			Headful:     getEnvBool("HEADFUL", true),
			BaseURL:     getEnv("BASE_URL", "https://justjoin.it/"),
			LoadTimeout: getEnvMillis("LOAD_TIMEOUT_MS", 15000),
		},
		Collector: CollectorConfig{
			JobNames:    getEnvList("JOB_NAMES", "QA Automation"),
			Locations:   getEnvList("LOCATIONS", "poland-remote,remote"),
			Limit:       getEnvInt("LIMIT", 0),
			TargetIndex: getEnvInt("TARGET_INDEXES", 1000),
			MaxLoopTime: getEnvSeconds("MAX_LOOP_SECONDS", 320),
			SleepMin:    getEnvMillis("SLEEP_MIN_MS", 60),
			SleepMax:    getEnvMillis("SLEEP_MAX_MS", 160),
		},
		Filter: FilterConfig{
			Keywords: getEnvList("KEYWORDS", ""),
			Limit:    getEnvInt("LIMIT", 0),
			FailFast: getEnvBool("FAIL_FAST", false),
			ShortMin: getEnvMillis("SHORT_TIMEOUT_MIN", 60),
			ShortMax: getEnvMillis("SHORT_TIMEOUT_MAX", 180),
			LongMin:  getEnvMillis("LONG_TIMEOUT_MIN", 300),
			LongMax:  getEnvMillis("LONG_TIMEOUT_MAX", 660),
		},
		Engine: EngineConfig{
			IntroText:        strings.TrimSpace(getEnv("INTRODUCE_YOURSELF", "")),
			FailFast:         getEnvBool("FAIL_FAST", false),
			Limit:            getEnvInt("LIMIT", 0),
			AllowCookieClick: getEnvBool("ALLOW_COOKIE_CLICK", true),
			ShortMin:         getEnvMillis("SHORT_TIMEOUT_MIN", 160),
			ShortMax:         getEnvMillis("SHORT_TIMEOUT_MAX", 320),
			LongMin:          getEnvMillis("LONG_TIMEOUT_MIN", 600),
			LongMax:          getEnvMillis("LONG_TIMEOUT_MAX", 1260),
		},
		Pipeline: PipelineConfig{
			Seq:        getEnv("SEQ", "s0,s1,s2,s3,s5"),
			Sleep:      getEnvSeconds("SLEEP_SECONDS", 0),
			KeepGoing:  getEnvBool("KEEP_GOING", false),
			ForceLogin: getEnvBool("FORCE_S1", false),
			CronSpec:   getEnv("PIPELINE_CRON", ""),
		},
		Paths: PathsConfig{
			DataDir:     dataDir,
			Links:       filepath.Join(dataDir, "links.jsonl"),
			Filtered:    filepath.Join(dataDir, "filtered_links.jsonl"),
			Manual:      filepath.Join(dataDir, "manual_work.jsonl"),
			StorageFile: filepath.Join(dataDir, "storage_state.json"),
			StateFile:   filepath.Join(dataDir, "state.json"),
			ErrorsDir:   filepath.Join(dataDir, "errors"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "applypilot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
