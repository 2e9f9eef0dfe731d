package cmd

import (
	"fmt"
	"sort"

	"github.com/joho/godotenv"

	"github.com/slackreports/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (secrets masked)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which settings are set
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := []struct {
		key    string
		value  string
		secret bool
	}{
		{"slack.token", cfg.Slack.Token, true},
		{"slack.home", cfg.Slack.Home, false},
	}
	for _, r := range required {
		switch {
		case r.value == "":
			result.Missing = append(result.Missing, r.key)
		case r.secret:
			result.Present[r.key] = maskSecret(r.value)
		default:
			result.Present[r.key] = r.value
		}
	}

	if cfg.Queue.DatabaseURL != "" {
		result.Present["queue.database_url"] = maskSecret(cfg.Queue.DatabaseURL)
	} else {
		result.Warnings = append(result.Warnings, "queue.database_url is not set: only the one-shot commands will work")
	}

	if cfg.LLM.APIKey != "" {
		result.Present["llm.api_key"] = maskSecret(cfg.LLM.APIKey)
	} else if cfg.LLM.Provider == "openai" {
		result.Warnings = append(result.Warnings, "llm.api_key is not set: openai summaries will fail unless OPENAI_API_KEY is exported")
	}

	if cfg.Sentry.DSN != "" {
		result.Present["sentry.dsn"] = maskSecret(cfg.Sentry.DSN)
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// loadEnvFile loads environment variables from a file, overwriting existing ones
func loadEnvFile(filename string) error {
	return godotenv.Overload(filename)
}
