// Package main is the entry point for cpamc, the quota console for a CLIProxyAPI gateway.
// It initializes configuration, services, and runs the Bubble Tea program.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/config"
	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
	"github.com/j-veylop/cpamc/internal/statusserver"
	"github.com/j-veylop/cpamc/internal/ui/tabs/claude"
	"github.com/j-veylop/cpamc/internal/ui/tabs/history"
	"github.com/j-veylop/cpamc/internal/ui/tabs/info"
	"github.com/j-veylop/cpamc/internal/ui/tabs/provider"
	"github.com/j-veylop/cpamc/internal/version"
)

var tabNames = map[quota.Family]string{
	quota.FamilyAntigravity: "Antigravity",
	quota.FamilyCodex:       "Codex",
	quota.FamilyGeminiCLI:   "Gemini CLI",
	quota.FamilyKiro:        "Kiro",
}

func main() {
	// Handle version flag
	if len(os.Args) > 1 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Handle help flag
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		printUsage()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run contains the main application logic, separated for cleaner error handling.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The TUI owns the terminal, so logs only go to the log file.
	if err := logger.Init(cfg.LogPath, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	svcManager, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := svcManager.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	if err := svcManager.Start(); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	if cfg.StatusAddr != "" {
		srv := statusserver.New(svcManager, cfg.StatusAddr)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	model := app.NewModel(svcManager)
	for _, family := range quota.Families {
		model.AddTab(tabNames[family], provider.New(family, svcManager))
	}
	model.AddTab("Claude", claude.New(svcManager.Claude()))

	var historySource history.Source
	if svcManager.Database() != nil {
		historySource = svcManager
	}
	model.AddTab("History", history.New(historySource))
	model.AddTab("Info", info.New(cfg))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	go func() {
		<-sigChan
		p.Send(tea.Quit())
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`cpamc - quota console for a CLIProxyAPI gateway

Usage:
  cpamc [flags]

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Keyboard Shortcuts:
  1-7             Switch between tabs
  Tab/Shift+Tab   Navigate between tabs
  j/k, Up/Down    Select account
  r               Refresh the selected account
  f               Refresh the whole provider
  R, Ctrl+R       Force refresh every provider
  ?               Toggle help
  q, Ctrl+C       Quit

Environment Variables:
  MANAGEMENT_URL          Gateway management base URL
  MANAGEMENT_KEY          Gateway management key
  AUTH_DIR                Credential directory to watch for reloads
  DATABASE_PATH           SQLite history database ("" disables history)
  STATUS_ADDR             Listen address of the local status server
  QUOTA_REFRESH_INTERVAL  Quota polling interval (0 disables polling)
  LOG_PATH, LOG_LEVEL     Log file and level

Configuration:
  Settings are read, in increasing priority, from the gateway's config.yaml,
  ~/.config/cpamc/config.yaml (or CPAMC_CONFIG), .env files and the environment.`)
}
