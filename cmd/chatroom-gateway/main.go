// ABOUTME: Entry point for chatroom-gateway, the AI chatroom backend
// ABOUTME: Runs the server and offers small client commands against a running gateway

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/chatroom-gateway/internal/config"
	"github.com/2389/chatroom-gateway/internal/gateway"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _                                         _
   ___| |__   __ _| |_ _ __ ___   ___  _ __ ___         __ _ | |_ __      __
  / __| '_ \ / _' | __| '__/ _ \ / _ \| '_ ' _ \ _____ / _' || __|\ \ /\ / /
 | (__| | | | (_| | |_| | | (_) | (_) | | | | | |_____| (_| || |_  \ V  V /
  \___|_| |_|\__,_|\__|_|  \___/ \___/|_| |_| |_|      \__, | \__|  \_/\_/
                                                       |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHATROOM_CONFIG env var > XDG_CONFIG_HOME/chatroom/gateway.yaml > ~/.config/chatroom/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATROOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatroom", "gateway.yaml")
}

// getDataPath returns the path to the chatroom data directory.
// Priority: XDG_DATA_HOME/chatroom > ~/.local/share/chatroom
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatroom")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "ask":
		err = runAsk(ctx, args)
	case "conversations":
		err = runConversations(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: chatroom-gateway <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  health                             Check gateway health and readiness")
	fmt.Println("  ask --user U [--conversation C] M  Send a message and stream the reply")
	fmt.Println("  conversations --user U             List a user's conversations")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CHATROOM_CONFIG       Config file path")
	fmt.Println("  CHATROOM_GATEWAY_URL  Gateway URL for client commands (default: from config)")
	fmt.Println()
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	printStartup(os.Stdout, configPath, cfg)

	logger.Info("starting chatroom-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// printStartup summarizes where the gateway listens and what it talks to.
func printStartup(out io.Writer, configPath string, cfg *config.Config) {
	listen := cfg.Server.HTTPAddr
	if cfg.Tailscale.Enabled {
		listen = "tailnet " + cfg.Tailscale.Hostname
		switch {
		case cfg.Tailscale.Funnel:
			listen += " [funnel]"
		case cfg.Tailscale.HTTPS:
			listen += " [https]"
		}
	}

	store := cfg.Database.Driver
	if store == "dynamodb" {
		store += " " + cfg.DynamoDB.Table
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range [][2]string{
		{"config", configPath},
		{"listen", listen},
		{"store", store},
		{"provider", cfg.Provider.Model + " via " + cfg.Provider.API},
	} {
		fmt.Fprintf(w, "    %s\t%s\t%s\n", color.GreenString("▶"), row[0], row[1])
	}
	w.Flush()
	fmt.Fprintln(out)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	ask := func(question, defaultVal string) string {
		return prompt(reader, question, defaultVal)
	}

	color.New(color.FgYellow).Println("chatroom-gateway setup")
	fmt.Println()

	outputFile := ask("Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil && !yes(ask("File exists. Overwrite?", "no")) {
		fmt.Println("Aborted.")
		return nil
	}

	cfg := initConfig(ask, filepath.Join(getDataPath(), "chatroom.db"))
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold a Tailscale auth key
	header := []byte("# chatroom-gateway configuration, generated by chatroom-gateway init\n")
	if err := os.WriteFile(outputFile, append(header, data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Start the server with: chatroom-gateway serve")
	return nil
}

// initConfig builds a config from interactive answers.
func initConfig(ask func(question, defaultVal string) string, defaultDBPath string) config.Config {
	var cfg config.Config

	cfg.Server.HTTPAddr = ask("HTTP address", "localhost:8080")

	cfg.Database.Driver = ask("Store driver (sqlite/postgres/dynamodb)", "sqlite")
	switch cfg.Database.Driver {
	case "postgres":
		cfg.Database.DSN = ask("Postgres DSN", "postgres://localhost/chatroom?sslmode=disable")
	case "dynamodb":
		cfg.AWS.Region = ask("AWS region", "us-east-1")
		cfg.DynamoDB.Table = ask("DynamoDB table", "Conversations")
	default:
		cfg.Database.Path = ask("SQLite database path", defaultDBPath)
	}

	cfg.Provider.API = config.DefaultAPI
	cfg.Provider.Model = ask("Model", config.DefaultModel)
	cfg.Provider.StreamTimeoutRaw = "5m"
	cfg.Secrets.Source = ask("API key source (env/aws)", config.DefaultSecretSource)
	cfg.Secrets.Name = ask("Secret name", config.DefaultSecretName)

	if yes(ask("Enable Tailscale?", "no")) {
		cfg.Tailscale.Enabled = true
		cfg.Tailscale.Hostname = ask("Tailscale hostname", "chatroom")
		cfg.Tailscale.AuthKey = ask("Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		cfg.Tailscale.Ephemeral = yes(ask("Ephemeral node?", "no"))
		cfg.Tailscale.Funnel = yes(ask("Enable Funnel (public HTTPS)?", "no"))
	}

	cfg.Logging.Level = ask("Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = ask("Log format (text/json)", "text")
	return cfg
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}
