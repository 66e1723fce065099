package config

import "slices"

// redacted replaces every non-empty secret in RedactedConfig output.
const redacted = "***"

// RedactedConfig copies cfg with credentials masked, for -print-config and
// startup logging. Slices are cloned so the copy can be modified freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	for _, secret := range []*string{
		&out.Database.DSN,
		&out.Database.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.AdminAPIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return out
}
