package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/rufae/servibot/internal/api"
	"github.com/rufae/servibot/internal/app"
	"github.com/rufae/servibot/internal/credential"
	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/store"
)

var BUILD_VERSION = "dev"

var (
	configPath  = flag.String("config", "", "path to the config file")
	serverURL   = flag.String("server", "", "backend base URL (overrides config)")
	loginFlag   = flag.Bool("login", false, "store an API token and exit")
	logoutFlag  = flag.Bool("logout", false, "end the session and drop the stored token")
	versionFlag = flag.Bool("version", false, "print the build version")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(BUILD_VERSION)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "servibot:", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	if *serverURL != "" {
		cfg.Server.BaseURL = *serverURL
	}

	if *loginFlag {
		return login()
	}

	logger, err := initializeLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	tokens := credential.TokenStore{}
	client := api.NewClient(cfg.Server.BaseURL, tokens, logger)
	client.SetTimeout(time.Duration(cfg.Server.TimeoutSec) * time.Second)
	client.SetRetryPolicy(cfg.Retry.MaxRetries, time.Duration(cfg.Retry.BaseDelayMS)*time.Millisecond)

	if *logoutFlag {
		return logout(client)
	}

	logger.Info("-------- new servibot session --------",
		zap.String("server", cfg.Server.BaseURL),
		zap.String("version", BUILD_VERSION),
	)

	history, err := store.NewSQLiteStore(historyFile())
	if err != nil {
		return fmt.Errorf("opening transcript store: %w", err)
	}
	defer history.Close()

	m := app.New(client, history, cfg, logger)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Error("unhandled error", zap.Error(err))
		return err
	}
	return nil
}

// login reads an API token from stdin and stores it in the system
// keyring.
func login() error {
	fmt.Print("Token de acceso: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return fmt.Errorf("empty token")
	}

	if err := (credential.TokenStore{}).Save(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	fmt.Println("Token guardado.")
	return nil
}

// logout tells the backend to end the session, then drops the local
// token either way.
func logout(client *api.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Logout(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "servibot: no se pudo cerrar la sesión en el servidor:", err)
	}
	if err := (credential.TokenStore{}).Clear(); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	fmt.Println("Sesión cerrada.")
	return nil
}

func initializeLogger() (*zap.Logger, error) {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	loggerConfig := zap.NewProductionConfig()
	if BUILD_VERSION == "dev" {
		loggerConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	// Logs only go to file to avoid interfering with the Bubble Tea UI.
	loggerConfig.OutputPaths = []string{
		filepath.Join(dir, "servibot.log"),
	}

	return loggerConfig.Build()
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "servibot")
}

func historyFile() string {
	return filepath.Join(dataDir(), "history.db")
}
