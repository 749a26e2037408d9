// ABOUTME: Entry point for the coven-chat server and its admin subcommands
// ABOUTME: serve runs the HTTP API; init, bootstrap, token and user manage local setup

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
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

// getConfigPath returns the path to the chat config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven/chat.yaml > ~/.config/coven/chat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "chat.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the chat server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  bootstrap --email E            Create config, an admin user and a token")
	fmt.Println("  health                         Check server health")
	fmt.Println("  token --user ID [--ttl D]      Mint an API token for a user")
	fmt.Println("  user add --email E [--admin]   Create a user")
	fmt.Println("  user list                      List users")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "user":
		err = runUser(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
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

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Max steps: %d\n", cfg.Chat.MaxSteps)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ▶ ")
		yellow.Println("Auth:      disabled (X-User-ID header)")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Rate:      %.2f/s burst %d\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	fmt.Println()

	logger.Info("starting coven-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
