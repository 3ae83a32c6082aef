package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string `toml:"-"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// redis, only needed for the redis session backend
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// allowed origins for state changing requests
	AllowedOrigins []string `toml:"allowed_origins"`

	BcryptCost int `toml:"bcrypt_cost"`

	Session   Session   `toml:"session"`
	Csrf      Csrf      `toml:"csrf"`
	RateLimit RateLimit `toml:"rate_limit"`
	Mail      Mail      `toml:"mail"`
}

type Session struct {
	CookieName   string   `toml:"cookie_name"`
	TTL          Duration `toml:"ttl"`
	SweepEvery   Duration `toml:"sweep_every"`
	SecureCookie bool     `toml:"secure_cookie"`
	// memory | redis
	Backend string `toml:"backend"`
}

type Csrf struct {
	FieldName       string   `toml:"field_name"`
	HeaderName      string   `toml:"header_name"`
	NonceCookieName string   `toml:"nonce_cookie_name"`
	AdminTTL        Duration `toml:"admin_ttl"`
	PublicTTL       Duration `toml:"public_ttl"`
	SweepEvery      Duration `toml:"sweep_every"`
	// bytes, minimum of 512KB is enforced by the cache itself
	AnonymousCacheSize int `toml:"anonymous_cache_size"`
}

type Rule struct {
	Limit  int      `toml:"limit"`
	Window Duration `toml:"window"`
}

type RateLimit struct {
	ContactSubmit    Rule     `toml:"contact_submit"`
	NewsletterSignup Rule     `toml:"newsletter_signup"`
	LoginAttempt     Rule     `toml:"login_attempt"`
	SweepEvery       Duration `toml:"sweep_every"`
	// remote | x-forwarded-for | x-real-ip
	ClientIPSource string   `toml:"client_ip_source"`
	TrustedProxies []string `toml:"trusted_proxies"`
}

type Mail struct {
	QueueSize            int      `toml:"queue_size"`
	Workers              int      `toml:"workers"`
	BroadcastConcurrency int      `toml:"broadcast_concurrency"`
	ConnectTimeout       Duration `toml:"connect_timeout"`
	SendTimeout          Duration `toml:"send_timeout"`
	TimeoutEscalation    int      `toml:"timeout_escalation"`
	JobRetention         int      `toml:"job_retention"`
	SiteURL              string   `toml:"site_url"`
}

// Duration lets TOML carry values like "15m" or "168h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Toml struct {
	Development *Config `toml:"development"`
	Production  *Config `toml:"production"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	return cfg, nil
}

func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return fromToml(&t, env)
}

func Parse(env, data string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fromToml(&t, env)
}

func fromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.Environment = strings.ToLower(env)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero value with the default the site runs with.
func (c *Config) ApplyDefaults() {
	setString(&c.Host, "localhost")
	if c.Port == 0 {
		c.Port = 8080
	}
	setString(&c.PrometheusMetricsHost, "localhost")
	setString(&c.PrometheusMetricsPort, "2112")
	setString(&c.LogLevel, "info")
	setString(&c.PostgresHost, "localhost")
	setString(&c.PostgresPort, "5432")
	setString(&c.PostgresDBName, "personal_site")
	setString(&c.RedisHost, "localhost")
	setString(&c.RedisPort, "6379")
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}

	setString(&c.Session.CookieName, "admin_session")
	setDuration(&c.Session.TTL, 24*time.Hour)
	setDuration(&c.Session.SweepEvery, 15*time.Minute)
	setString(&c.Session.Backend, "memory")

	setString(&c.Csrf.FieldName, "csrf_token")
	setString(&c.Csrf.HeaderName, "X-CSRF-Token")
	setString(&c.Csrf.NonceCookieName, "csrf_nonce")
	setDuration(&c.Csrf.AdminTTL, time.Hour)
	setDuration(&c.Csrf.PublicTTL, time.Hour)
	setDuration(&c.Csrf.SweepEvery, 10*time.Minute)
	if c.Csrf.AnonymousCacheSize == 0 {
		c.Csrf.AnonymousCacheSize = 4 * 1024 * 1024
	}

	setRule(&c.RateLimit.ContactSubmit, 5, time.Minute)
	setRule(&c.RateLimit.NewsletterSignup, 5, time.Minute)
	setRule(&c.RateLimit.LoginAttempt, 10, 5*time.Minute)
	setDuration(&c.RateLimit.SweepEvery, 5*time.Minute)
	setString(&c.RateLimit.ClientIPSource, "remote")

	setInt(&c.Mail.QueueSize, 100)
	setInt(&c.Mail.Workers, 2)
	setInt(&c.Mail.BroadcastConcurrency, 4)
	setDuration(&c.Mail.ConnectTimeout, 10*time.Second)
	setDuration(&c.Mail.SendTimeout, 30*time.Second)
	setInt(&c.Mail.TimeoutEscalation, 3)
	setInt(&c.Mail.JobRetention, 1000)
	setString(&c.Mail.SiteURL, "http://localhost:8080")
}

func (c *Config) Validate() error {
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session backend: %s", c.Session.Backend)
	}
	switch c.RateLimit.ClientIPSource {
	case "remote", "x-forwarded-for", "x-real-ip":
	default:
		return fmt.Errorf("unknown client ip source: %s", c.RateLimit.ClientIPSource)
	}
	for name, rule := range map[string]Rule{
		"contact_submit":    c.RateLimit.ContactSubmit,
		"newsletter_signup": c.RateLimit.NewsletterSignup,
		"login_attempt":     c.RateLimit.LoginAttempt,
	} {
		if rule.Limit <= 0 || rule.Window.Duration <= 0 {
			return fmt.Errorf("rate limit rule %s: limit and window must be positive", name)
		}
	}
	// tickers and timers panic or fire at once on anything else
	for name, d := range map[string]Duration{
		"session.ttl":            c.Session.TTL,
		"session.sweep_every":    c.Session.SweepEvery,
		"csrf.admin_ttl":         c.Csrf.AdminTTL,
		"csrf.public_ttl":        c.Csrf.PublicTTL,
		"csrf.sweep_every":       c.Csrf.SweepEvery,
		"rate_limit.sweep_every": c.RateLimit.SweepEvery,
		"mail.connect_timeout":   c.Mail.ConnectTimeout,
		"mail.send_timeout":      c.Mail.SendTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration)
		}
	}
	return nil
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func setInt(i *int, def int) {
	if *i == 0 {
		*i = def
	}
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

func setRule(r *Rule, limit int, window time.Duration) {
	setInt(&r.Limit, limit)
	setDuration(&r.Window, window)
}
