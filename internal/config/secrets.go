package config

import "fmt"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Broker.APIKey)
	redact(&out.Broker.APISecret)
	redact(&out.Broker.SecretPassword)
	redact(&out.Auth.JWTSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// API keys are the map keys themselves, so they are replaced wholesale.
	if cfg.Auth.APIKeys != nil {
		out.Auth.APIKeys = make(map[string]string, len(cfg.Auth.APIKeys))
		i := 0
		for _, trader := range cfg.Auth.APIKeys {
			i++
			out.Auth.APIKeys[fmt.Sprintf("%s%d", redacted, i)] = trader
		}
	}

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Feed.Symbols = append([]string(nil), cfg.Feed.Symbols...)
	out.Market.Holidays = append([]string(nil), cfg.Market.Holidays...)
	if cfg.Market.EarlyCloses != nil {
		out.Market.EarlyCloses = make(map[string]string, len(cfg.Market.EarlyCloses))
		for k, v := range cfg.Market.EarlyCloses {
			out.Market.EarlyCloses[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
