package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: every credential
// that is set reads "***" and slices are cloned so the copy shares no state.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range []*string{
		&out.Upstream.APIKey,
		&out.Server.APIKey,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}
