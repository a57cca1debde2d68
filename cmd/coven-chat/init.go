// ABOUTME: Interactive config file generator for coven-chat
// ABOUTME: Prompts for server, storage, completion and logging settings and writes YAML

package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
)

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-chat configuration setup")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)

	dataPath := getDataPath()

	// Output filename
	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", "127.0.0.1:8080")

	fmt.Fprintln(out, "\n--- Storage Configuration ---")
	backend := prompt(reader, out, "Backend (memory/sqlite/bolt/redis)", config.BackendSQLite)

	var dbPath, driver, redisAddr string
	switch backend {
	case config.BackendSQLite:
		dbPath = prompt(reader, out, "SQLite database path", filepath.Join(dataPath, "chat.db"))
		driver = prompt(reader, out, "SQLite driver (sqlite/sqlite3)", "sqlite")
	case config.BackendBolt:
		dbPath = prompt(reader, out, "Bolt database path", filepath.Join(dataPath, "chat.bolt"))
	case config.BackendRedis:
		redisAddr = prompt(reader, out, "Redis address", "127.0.0.1:6379")
	case config.BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}

	fmt.Fprintln(out, "\n--- Completion Configuration ---")
	provider := prompt(reader, out, "Provider (openai/echo)", config.ProviderOpenAI)

	var model, apiKey, baseURL string
	switch provider {
	case config.ProviderOpenAI:
		model = prompt(reader, out, "Model", "gpt-4o-mini")
		apiKey = prompt(reader, out, "API key (or ${ENV_VAR})", "${OPENAI_API_KEY}")
		baseURL = prompt(reader, out, "Base URL (leave empty for api.openai.com)", "")
	case config.ProviderEcho:
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	stream := yes(prompt(reader, out, "Stream replies?", "yes"))

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	secret, err := auth.RandomSecret()
	if err != nil {
		return fmt.Errorf("generating session secret: %w", err)
	}

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# coven-chat configuration\n")
	cfg.WriteString("# Generated by coven-chat init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	if dbPath != "" {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	}
	if driver != "" {
		cfg.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	}
	if redisAddr != "" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    addr: %q\n", redisAddr))
		cfg.WriteString("    prefix: \"coven-chat\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("completion:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", provider))
	if model != "" {
		cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	}
	if apiKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: %q\n", apiKey))
	}
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	}
	cfg.WriteString(fmt.Sprintf("  stream: %t\n", stream))
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("webui:\n")
	cfg.WriteString(fmt.Sprintf("  session_secret: %q\n", base64.StdEncoding.EncodeToString(secret)))
	cfg.WriteString("  session_idle_timeout: \"30m\"\n")
	cfg.WriteString("  dedupe_window: \"1m\"\n")
	cfg.WriteString("  dedupe_size: 10000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the session secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	if dbPath != "" {
		fmt.Fprintf(out, "Data directory: %s\n", filepath.Dir(dbPath))
	}
	fmt.Fprintln(out, "\nTo start chatting:")
	fmt.Fprintln(out, "  coven-chat serve    # web UI")
	fmt.Fprintln(out, "  coven-chat chat     # terminal")

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
