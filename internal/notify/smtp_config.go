package notify

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// SMTPConfig is read from the environment, nothing of it lives in the config file.
type SMTPConfig struct {
	Server      string `env:"SMTP_SERVER, default=smtp.gmail.com"`
	Port        int    `env:"SMTP_PORT, default=587"`
	Username    string `env:"SMTP_USERNAME"`
	Password    string `env:"SMTP_PASSWORD"`
	SenderEmail string `env:"SENDER_EMAIL"`
	SenderName  string `env:"SENDER_NAME, default=Personal Site"`
}

// LoadSMTPConfig reads the SMTP settings, from the process env when lookuper is nil.
func LoadSMTPConfig(ctx context.Context, lookuper envconfig.Lookuper) (SMTPConfig, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	var cfg SMTPConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return SMTPConfig{}, fmt.Errorf("process smtp env config: %w", err)
	}

	if cfg.SenderEmail == "" {
		cfg.SenderEmail = cfg.Username
	}

	return cfg, nil
}

// Configured reports whether there is enough to log into a mail server.
func (c SMTPConfig) Configured() bool {
	return c.Server != "" && c.Port > 0 && c.Username != "" && c.Password != ""
}
