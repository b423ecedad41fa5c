package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# CAS valuer configuration

[database]
# SQLite database file holding statements and derived collections
# path = "~/.config/cas-valuer/cas-valuer.db"

[pipeline]
# Statements processed in parallel per pass
statement_workers = 2
# Holdings fetched and valued in parallel per statement
holding_concurrency = 4
# Interval between passes in watch mode
poll_interval = "5m"

[nav]
# mfapi.in compatible NAV provider
base_url = "https://api.mfapi.in"
# Per-request timeout
timeout = "20s"
# Client-side rate limit
requests_per_second = 5.0
burst = 5
# How long a fetched NAV series is reused
cache_ttl = "30m"
# Retry policy for unavailable upstream
max_attempts = 3
initial_backoff = "500ms"
max_backoff = "10s"
# Circuit breaker
breaker_failures = 5
breaker_cooldown = "30s"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30

[notifications]
# all, failures
level = "failures"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
# The bot token can also come from CAS_TELEGRAM_BOT_TOKEN in .env
enabled = false
bot_token = ""
chat_id = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
