// Package config loads engine settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent mimics a desktop browser so that hosts serving different
// content to bots return the same page a visitor would see.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BlockDomain maps a blocking intermediary's hostname to the provider shown in results.
type BlockDomain struct {
	Host   string `yaml:"host"`
	Source string `yaml:"source"`
	Label  string `yaml:"label,omitempty"` // defaults to Host
}

// Settings holds every tunable of the monitoring engine.
type Settings struct {
	DataDir      string `yaml:"data_dir"`
	ConfigFile   string `yaml:"config_file"`
	ResultsFile  string `yaml:"results_file"`
	HistoryDB    string `yaml:"history_db"`
	ExportDir    string `yaml:"export_dir"`
	RedirectRoot string `yaml:"redirect_root"`

	// RedirectFallback is where a redirect page sends visitors when the
	// site is missing from the configuration.
	RedirectFallback string `yaml:"redirect_fallback"`
	PublicURL        string `yaml:"public_url"`

	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	DelayBetweenChecks time.Duration `yaml:"delay_between_checks"`
	BatchSize          int           `yaml:"batch_size"`
	MaxRedirects       int           `yaml:"max_redirects"`
	ForceIPv4          bool          `yaml:"force_ipv4"`
	UserAgent          string        `yaml:"user_agent"`
	CertWarnDays       int           `yaml:"cert_warn_days"`

	CacheTTL   time.Duration `yaml:"cache_ttl"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
	PageSize   int           `yaml:"page_size"`

	DailyCheckAt     string        `yaml:"daily_check_at"`
	Timezone         string        `yaml:"timezone"`
	HistoryRetention time.Duration `yaml:"history_retention"`

	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`

	TelegramToken string  `yaml:"telegram_token"`
	Recipients    []int64 `yaml:"recipients"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	BlockDomains []BlockDomain `yaml:"block_domains"`
	BlockPhrases []string      `yaml:"block_phrases"`
}

// Default returns the settings used when no file or environment overrides exist.
func Default() Settings {
	return Settings{
		DataDir:            "../private",
		ExportDir:          "./logs",
		RedirectRoot:       "../",
		RedirectFallback:   "https://t.me/cs_hokirecehbot",
		PublicURL:          "https://bukitcuan.fun",
		RequestTimeout:     25 * time.Second,
		MaxRetries:         2,
		RetryBaseDelay:     2 * time.Second,
		DelayBetweenChecks: 3 * time.Second,
		BatchSize:          5,
		MaxRedirects:       5,
		ForceIPv4:          true,
		UserAgent:          DefaultUserAgent,
		CertWarnDays:       30,
		CacheTTL:           5 * time.Minute,
		PendingTTL:         5 * time.Minute,
		PageSize:           10,
		DailyCheckAt:       "08:00",
		Timezone:           "Asia/Jakarta",
		HistoryRetention:   365 * 24 * time.Hour,
		RateLimit:          30,
		RateWindow:         time.Minute,
		LogLevel:           "info",
		LogFormat:          "console",
		BlockDomains: []BlockDomain{
			{Host: "internetpositif.id", Source: "Telkom"},
			{Host: "trustpositif.kominfo.go.id", Source: "Kominfo", Label: "trustpositif"},
		},
		BlockPhrases: []string{
			"Internet Positif",
			"Halaman ini tidak dapat diakses",
			"This page is blocked",
			"Access Denied",
			"Forbidden",
			"trustpositif",
		},
	}
}

// Load reads settings from an optional YAML file and applies environment
// overrides. A missing file is not an error.
func Load(path string, logger zerolog.Logger) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug().Str("config_path", path).Msg("[Config] Settings file not found, using defaults")
		case err != nil:
			return s, fmt.Errorf("failed to read settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("failed to parse YAML: %w", err)
			}
			logger.Info().Str("config_path", path).Msg("[Config] Loaded settings file")
		}
	}

	if err := s.applyEnv(); err != nil {
		return s, err
	}
	s.fillPaths()

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	var err error

	s.DataDir = getEnvOrDefault("CEKLINK_DATA_DIR", s.DataDir)
	s.ConfigFile = getEnvOrDefault("CEKLINK_CONFIG_FILE", s.ConfigFile)
	s.ResultsFile = getEnvOrDefault("CEKLINK_RESULTS_FILE", s.ResultsFile)
	s.HistoryDB = getEnvOrDefault("CEKLINK_HISTORY_DB", s.HistoryDB)
	s.ExportDir = getEnvOrDefault("CEKLINK_EXPORT_DIR", s.ExportDir)
	s.RedirectRoot = getEnvOrDefault("CEKLINK_REDIRECT_ROOT", s.RedirectRoot)
	s.RedirectFallback = getEnvOrDefault("CEKLINK_REDIRECT_FALLBACK", s.RedirectFallback)
	s.PublicURL = getEnvOrDefault("CEKLINK_PUBLIC_URL", s.PublicURL)
	s.UserAgent = getEnvOrDefault("USER_AGENT", s.UserAgent)
	s.DailyCheckAt = getEnvOrDefault("CEKLINK_DAILY_CHECK_AT", s.DailyCheckAt)
	s.Timezone = getEnvOrDefault("CEKLINK_TIMEZONE", s.Timezone)
	s.TelegramToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", s.TelegramToken)
	s.MetricsAddr = getEnvOrDefault("CEKLINK_METRICS_ADDR", s.MetricsAddr)
	s.LogLevel = getEnvOrDefault("LOG_LEVEL", s.LogLevel)
	s.LogFormat = getEnvOrDefault("CEKLINK_LOG_FORMAT", s.LogFormat)

	// REQUEST_TIMEOUT is milliseconds and DELAY_BETWEEN_CHECKS is seconds
	// to stay compatible with existing .env files.
	if s.RequestTimeout, err = getEnvAsScaled("REQUEST_TIMEOUT", time.Millisecond, s.RequestTimeout); err != nil {
		return err
	}
	if s.DelayBetweenChecks, err = getEnvAsScaled("DELAY_BETWEEN_CHECKS", time.Second, s.DelayBetweenChecks); err != nil {
		return err
	}
	if s.MaxRetries, err = getEnvAsInt("MAX_RETRIES", s.MaxRetries); err != nil {
		return err
	}
	if s.BatchSize, err = getEnvAsInt("CEKLINK_BATCH_SIZE", s.BatchSize); err != nil {
		return err
	}
	if s.MaxRedirects, err = getEnvAsInt("CEKLINK_MAX_REDIRECTS", s.MaxRedirects); err != nil {
		return err
	}
	if s.PageSize, err = getEnvAsInt("CEKLINK_PAGE_SIZE", s.PageSize); err != nil {
		return err
	}
	if s.CertWarnDays, err = getEnvAsInt("CEKLINK_CERT_WARN_DAYS", s.CertWarnDays); err != nil {
		return err
	}
	if s.RateLimit, err = getEnvAsInt("CEKLINK_RATE_LIMIT", s.RateLimit); err != nil {
		return err
	}
	if s.ForceIPv4, err = getEnvAsBool("CEKLINK_FORCE_IPV4", s.ForceIPv4); err != nil {
		return err
	}
	if s.RetryBaseDelay, err = getEnvAsDuration("CEKLINK_RETRY_BASE_DELAY", s.RetryBaseDelay); err != nil {
		return err
	}
	if s.CacheTTL, err = getEnvAsDuration("CEKLINK_CACHE_TTL", s.CacheTTL); err != nil {
		return err
	}
	if s.PendingTTL, err = getEnvAsDuration("CEKLINK_PENDING_TTL", s.PendingTTL); err != nil {
		return err
	}
	if s.HistoryRetention, err = getEnvAsDuration("CEKLINK_HISTORY_RETENTION", s.HistoryRetention); err != nil {
		return err
	}
	if s.RateWindow, err = getEnvAsDuration("CEKLINK_RATE_WINDOW", s.RateWindow); err != nil {
		return err
	}

	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		ids, err := ParseRecipients(raw)
		if err != nil {
			return err
		}
		s.Recipients = ids
	}
	return nil
}

func (s *Settings) fillPaths() {
	if s.ConfigFile == "" {
		s.ConfigFile = filepath.Join(s.DataDir, "config.json")
	}
	if s.ResultsFile == "" {
		s.ResultsFile = filepath.Join(s.DataDir, "check_results.json")
	}
	if s.HistoryDB == "" {
		s.HistoryDB = filepath.Join(s.DataDir, "history.db")
	}
	if s.HistoryDB == "off" {
		s.HistoryDB = ""
	}
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", s.MaxRetries)
	}
	if s.RetryBaseDelay < 0 || s.DelayBetweenChecks < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", s.BatchSize)
	}
	if s.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", s.MaxRedirects)
	}
	if s.PageSize < 1 {
		return fmt.Errorf("page_size must be at least 1, got %d", s.PageSize)
	}
	if s.CacheTTL <= 0 || s.PendingTTL <= 0 {
		return fmt.Errorf("cache_ttl and pending_ttl must be positive")
	}
	if s.RateLimit < 1 || s.RateWindow <= 0 {
		return fmt.Errorf("rate_limit must be at least 1 per positive rate_window")
	}
	if _, _, err := s.DailyTime(); err != nil {
		return err
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", s.LogFormat)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", s.LogLevel, err)
	}
	return nil
}

// DailyTime parses DailyCheckAt as HH:MM.
func (s Settings) DailyTime() (hour, minute uint, err error) {
	t, err := time.Parse("15:04", s.DailyCheckAt)
	if err != nil {
		return 0, 0, fmt.Errorf("daily_check_at must be HH:MM, got %q", s.DailyCheckAt)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// Location resolves Timezone.
func (s Settings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// ParseRecipients parses a comma separated list of chat IDs.
func ParseRecipients(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func getEnvAsScaled(key string, unit time.Duration, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvAsInt(key, -1)
	if err != nil {
		return fallback, err
	}
	if n < 0 {
		return fallback, nil
	}
	return time.Duration(n) * unit, nil
}
