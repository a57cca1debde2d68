// ABOUTME: Entry point for coven-chat, a multi-thread chatbot with web and terminal shells
// ABOUTME: Dispatches the serve, chat, threads, history and init subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
	"github.com/2389/coven-chat/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                        _           _
  ___ _____   _____ _ __         ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____| (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|      \___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven-chat/config.yaml > ~/.config/coven-chat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-chat", "config.yaml")
}

// getDataPath returns the path to the coven-chat data directory.
// Priority: XDG_DATA_HOME/coven-chat > ~/.local/share/coven-chat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-chat")
}

// loadConfig reads the config file, falling back to the built-in defaults
// (memory store, echo completer) when it does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, false, fmt.Errorf("default config: %w", err)
		}
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

func printUsage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve              Start the web chat server")
	fmt.Println("  chat               Chat in the terminal")
	fmt.Println("  threads            List stored threads")
	fmt.Println("  history <thread>   Print a thread's messages")
	fmt.Println("  init               Create a new config file interactively")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "chat":
		err = runChat(ctx)
	case "threads":
		err = runThreads(ctx)
	case "history":
		if len(os.Args) < 3 {
			err = errors.New("usage: coven-chat history <thread>")
			break
		}
		err = runHistory(ctx, os.Args[2])
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, found, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := installLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if found {
		fmt.Printf("Config:     %s\n", configPath)
	} else {
		fmt.Print("Config:     ")
		yellow.Println("built-in defaults (run coven-chat init)")
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       http://%s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Storage:    %s\n", describeStorage(cfg.Database))
	green.Print("    ▶ ")
	fmt.Printf("Completion: %s", cfg.Completion.Provider)
	if cfg.Completion.Provider == config.ProviderOpenAI {
		gray.Printf(" (%s)", cfg.Completion.Model)
	}
	fmt.Println()
	if cfg.Database.Backend == config.BackendMemory {
		yellow.Println("    ! memory storage: threads are lost on exit")
	}
	fmt.Println()

	logger.Info("starting coven-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// describeStorage summarises the configured backend for the startup banner
func describeStorage(db config.DatabaseConfig) string {
	switch db.Backend {
	case config.BackendSQLite:
		return fmt.Sprintf("sqlite %s (driver %s)", db.Path, db.Driver)
	case config.BackendBolt:
		return "bolt " + db.Path
	case config.BackendRedis:
		return fmt.Sprintf("redis %s/%d prefix %q", db.Redis.Addr, db.Redis.DB, db.Redis.Prefix)
	default:
		return db.Backend
	}
}

// runChat runs the terminal shell against an in-process controller
func runChat(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	// Logs go to stderr so they do not interleave with the reply stream,
	// and routine info lines are hidden unless debug is asked for
	logCfg := cfg.Logging
	if logCfg.Level == "" || logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger := installLogger(logCfg, os.Stderr)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Shutdown(context.Background())

	term := newTerminal(gw.Controller(), os.Stdin, os.Stdout)
	return term.Run(ctx)
}

// openStore opens the configured store for the read-only subcommands
func openStore(ctx context.Context) (store.ConversationStore, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	installLogger(cfg.Logging, os.Stderr)

	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func runThreads(ctx context.Context) error {
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return printThreads(ctx, s, os.Stdout)
}

func runHistory(ctx context.Context, threadID string) error {
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return printHistory(ctx, s, threadID, os.Stdout)
}
