package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from multiple sources: the .env file,
// config.yaml, and a JSON overlay under ./config/.
// Load order:
// 1. .env file (environment variables)
// 2. config.yaml (base configuration)
// 3. config/mail_config.json (merged into the main configuration)
// Environment variables override same-named settings from the files.
func LoadConfig() {
	// 1. Load environment variables from .env; ignore a missing file.
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping.")
	}

	// 2. Set up and read the base configuration file (config.yaml).
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// A missing base config is fine, defaults and env vars apply.
			log.Printf("No base configuration (config.yaml) found, using environment variables and defaults.")
		} else {
			panic(fmt.Errorf("fatal error reading base configuration: %w", err))
		}
	}

	// 3. Merge the mail overlay (config/mail_config.json) if present.
	viper.SetConfigName("mail_config")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("No mail configuration (config/mail_config.json) found, skipping merge.")
		} else {
			panic(fmt.Errorf("fatal error merging mail configuration: %w", err))
		}
	}
}

func setDefaults() {
	viper.SetDefault("db.path", "data/forum.db")
	viper.SetDefault("status.file", "data/mail_status.json")
	viper.SetDefault("site.name", "Forum")
	viper.SetDefault("site.host", "localhost")
	viper.SetDefault("site.timezone", "UTC")
	viper.SetDefault("mail.oldPostDays", 14)
	viper.SetDefault("mail.digestHour", 17)
	viper.SetDefault("mail.forcedReadTracking", false)
	viper.SetDefault("mail.manualMarkRead", false)
	viper.SetDefault("mail.maxEditingMinutes", 30)
	viper.SetDefault("mail.collectWindowHours", 48)
	viper.SetDefault("mail.cacheThreshold", 5000)
	viper.SetDefault("mail.enableTimedPosts", false)
	viper.SetDefault("mail.staleDigestDays", 7)
	viper.SetDefault("mail.cron", "@every 5m")
	viper.SetDefault("mail.digestCron", "@every 30m")
	viper.SetDefault("mail.cleanupCron", "@daily")
	viper.SetDefault("mail.runAtStartup", false)
	viper.SetDefault("smtp.requireTLS", false)
}

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Server     string // host:port
	From       string // sender and auth identity
	Password   string
	RequireTLS bool
}

// Config is the explicit configuration passed to every component; there is
// no ambient global configuration beyond the viper load at startup.
type Config struct {
	DBPath     string
	StatusFile string

	SiteName     string
	SiteHost     string
	SiteTimezone string
	ReplyTo      string // address replies are directed to, may be empty

	OldPostDays        int  // read-record and implicit-read retention window
	DigestHour         int  // local hour of day at which digests go out
	ForcedReadTracking bool // whether forced tracking mode is honored
	ManualMarkRead     bool // if set, sent posts are not auto-marked read
	MaxEditingTime     time.Duration
	CollectWindow      time.Duration // how far back an unmailed-post pass reaches
	CacheThreshold     int           // full user records cached per pass
	EnableTimedPosts   bool
	StaleDigestDays    int

	MailCron     string
	DigestCron   string
	CleanupCron  string
	RunAtStartup bool

	SMTP SMTPConfig
}

// FromViper builds the typed configuration from the loaded viper state.
func FromViper() (*Config, error) {
	cfg := &Config{
		DBPath:             viper.GetString("db.path"),
		StatusFile:         viper.GetString("status.file"),
		SiteName:           viper.GetString("site.name"),
		SiteHost:           viper.GetString("site.host"),
		SiteTimezone:       viper.GetString("site.timezone"),
		ReplyTo:            viper.GetString("mail.replyTo"),
		OldPostDays:        viper.GetInt("mail.oldPostDays"),
		DigestHour:         viper.GetInt("mail.digestHour"),
		ForcedReadTracking: viper.GetBool("mail.forcedReadTracking"),
		ManualMarkRead:     viper.GetBool("mail.manualMarkRead"),
		MaxEditingTime:     time.Duration(viper.GetInt("mail.maxEditingMinutes")) * time.Minute,
		CollectWindow:      time.Duration(viper.GetInt("mail.collectWindowHours")) * time.Hour,
		CacheThreshold:     viper.GetInt("mail.cacheThreshold"),
		EnableTimedPosts:   viper.GetBool("mail.enableTimedPosts"),
		StaleDigestDays:    viper.GetInt("mail.staleDigestDays"),
		MailCron:           viper.GetString("mail.cron"),
		DigestCron:         viper.GetString("mail.digestCron"),
		CleanupCron:        viper.GetString("mail.cleanupCron"),
		RunAtStartup:       viper.GetBool("mail.runAtStartup"),
		SMTP: SMTPConfig{
			Server:     viper.GetString("smtp.server"),
			From:       viper.GetString("smtp.from"),
			Password:   viper.GetString("smtp.password"),
			RequireTLS: viper.GetBool("smtp.requireTLS"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the dispatchers cannot work with.
func (c *Config) Validate() error {
	if c.DigestHour < 0 || c.DigestHour > 23 {
		return fmt.Errorf("invalid digest hour %d: must be between 0 and 23", c.DigestHour)
	}
	if c.OldPostDays <= 0 {
		return fmt.Errorf("invalid old post days %d: must be positive", c.OldPostDays)
	}
	if c.CacheThreshold < 0 {
		return fmt.Errorf("invalid cache threshold %d: must not be negative", c.CacheThreshold)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid site timezone %q: %w", c.SiteTimezone, err)
	}
	return nil
}

// Location resolves the site timezone used for digest scheduling.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.SiteTimezone)
}

// OldPostCutoff returns the Unix time before which posts count as
// implicitly read.
func (c *Config) OldPostCutoff(now time.Time) int64 {
	return now.Unix() - int64(c.OldPostDays)*86400
}
