// ABOUTME: Local setup subcommands: init, bootstrap, token and user
// ABOUTME: These open the SQLite store directly and never talk to a running server

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// defaultTokenTTL is how long minted tokens live unless --ttl says otherwise.
const defaultTokenTTL = 30 * 24 * time.Hour

// openStore loads the config and opens its database.
func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

// mintToken signs a token for userID with the configured secret.
func mintToken(cfg *config.Config, userID string, ttl time.Duration) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", errors.New("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// newUser validates the inputs and builds a user row, hashing password if given.
func newUser(email, name, password string, isAdmin bool) (*store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid --email is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if len(name) > 100 {
		return nil, fmt.Errorf("name exceeds maximum length of 100 characters")
	}

	u := &store.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now().UTC(),
	}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	return u, nil
}

// runToken mints a token for an existing user.
func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userRef := fs.String("user", "", "user id or email")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userRef == "" {
		return fmt.Errorf("--user is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := lookupUser(ctx, s, *userRef)
	if err != nil {
		return err
	}

	token, err := mintToken(cfg, u.ID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func lookupUser(ctx context.Context, s *store.SQLiteStore, ref string) (*store.User, error) {
	var (
		u   *store.User
		err error
	)
	if strings.Contains(ref, "@") {
		u, err = s.GetUserByEmail(ctx, ref)
	} else {
		u, err = s.GetUser(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, err
}

// runUser handles "user add" and "user list".
func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: coven-chat user <add|list>")
	}

	switch args[0] {
	case "add":
		return runUserAdd(ctx, args[1:])
	case "list":
		return runUserList(ctx)
	default:
		return fmt.Errorf("unknown user command: %s", args[0])
	}
}

func runUserAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	name := fs.String("name", "", "display name")
	admin := fs.Bool("admin", false, "grant admin (sees every model and tool)")
	password := fs.String("password", "", "optional password, stored as a bcrypt hash")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := newUser(*email, *name, *password, *admin)
	if err != nil {
		return err
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("a user with email %s already exists", u.Email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created user %s\n", u.Email)
	fmt.Printf("  ID:    %s\n", u.ID)
	fmt.Printf("  Admin: %t\n", u.IsAdmin)
	return nil
}

func runUserList(ctx context.Context) error {
	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tADMIN")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", u.ID, u.Email, u.Name, u.IsAdmin)
	}
	return w.Flush()
}

// runBootstrap performs first-time setup:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database and an admin user
// 3. Generates JWT token for the admin
//
// This is a one-command setup: coven-chat bootstrap --email you@example.com
func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	email := fs.String("email", "", "admin email address")
	name := fs.String("name", "", "admin display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	admin, err := newUser(*email, *name, "", true)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "chat.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		content := renderConfig(configValues{
			HTTPAddr:  "localhost:8080",
			DBPath:    dbPath,
			JWTSecret: jwtSecret,
			LogLevel:  "info",
			LogFormat: "text",
		})
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	existing, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", len(existing))
	}

	if err := s.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}
	green.Printf("  ✓ Created admin user: %s\n", admin.Email)

	token, err := mintToken(cfg, admin.ID, defaultTokenTTL)
	if err != nil {
		return err
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "chat-token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	fmt.Printf("  ID:      %s\n", admin.ID)
	fmt.Printf("  Email:   %s\n", admin.Email)
	fmt.Printf("  Expires: %s\n", time.Now().Add(defaultTokenTTL).UTC().Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    coven-chat serve")
	fmt.Println()
	return nil
}

// configValues are the answers collected by init and bootstrap.
type configValues struct {
	HTTPAddr     string
	DBPath       string
	JWTSecret    string
	SystemPrompt string
	MaxSteps     string
	LogLevel     string
	LogFormat    string
}

func renderConfig(v configValues) string {
	var b strings.Builder
	b.WriteString("# coven-chat configuration\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n\n", v.HTTPAddr)

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", v.DBPath)

	b.WriteString("auth:\n")
	if v.JWTSecret != "" {
		fmt.Fprintf(&b, "  jwt_secret: %q\n\n", v.JWTSecret)
	} else {
		b.WriteString("  # jwt_secret: \"${COVEN_CHAT_JWT_SECRET}\"\n\n")
	}

	b.WriteString("chat:\n")
	maxSteps := v.MaxSteps
	if maxSteps == "" {
		maxSteps = fmt.Sprint(config.DefaultMaxSteps)
	}
	fmt.Fprintf(&b, "  max_steps: %s\n", maxSteps)
	if v.SystemPrompt != "" {
		fmt.Fprintf(&b, "  system_prompt: %q\n", v.SystemPrompt)
	}
	fmt.Fprintf(&b, "  tool_connect_timeout: %q\n", config.DefaultToolConnectTimeout.String())
	fmt.Fprintf(&b, "  tool_call_timeout: %q\n", config.DefaultToolCallTimeout.String())
	fmt.Fprintf(&b, "  max_concurrent_connects: %d\n\n", config.DefaultMaxConcurrentConnects)

	b.WriteString("fallback:\n")
	fmt.Fprintf(&b, "  model: %q\n", config.DefaultFallbackModel)
	b.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", v.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", v.LogFormat)
	return b.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "chat.db")

	outputFile := prompt(reader, os.Stdout, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, os.Stdout, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, os.Stdout, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, os.Stdout, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Chat Configuration ---")
	maxSteps := prompt(reader, os.Stdout, "Max model invocations per turn", fmt.Sprint(config.DefaultMaxSteps))
	systemPrompt := prompt(reader, os.Stdout, "System prompt (leave empty for none)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, os.Stdout, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, os.Stdout, "Log format (text/json)", "text")

	content := renderConfig(configValues{
		HTTPAddr:     httpAddr,
		DBPath:       dbPath,
		SystemPrompt: systemPrompt,
		MaxSteps:     maxSteps,
		LogLevel:     logLevel,
		LogFormat:    logFormat,
	})

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  coven-chat serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
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
