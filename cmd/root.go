package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reviewpilot/rp/internal/approval"
	"github.com/reviewpilot/rp/internal/llm"
	"github.com/reviewpilot/rp/internal/output"
	"github.com/reviewpilot/rp/internal/store"
	"github.com/reviewpilot/rp/internal/sync"
	"github.com/reviewpilot/rp/internal/trustpilot"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

// Set by Execute from goreleaser ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rp",
	Short: "Review Pilot - sync customer reviews and draft AI replies",
	Long: `rp synchronizes customer reviews from Trustpilot into a local ledger
and drives a semi-automated response pipeline: each new review gets a
policy-matched AI reply draft that is sent, queued for approval, or
previewed, depending on the run mode.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/rp/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "rp")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RP")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "rp")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "rp.db"))
	viper.SetDefault("trustpilot.api_key", "")
	viper.SetDefault("trustpilot.api_secret", "")
	viper.SetDefault("trustpilot.business_unit_id", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("business.name", "")
	viper.SetDefault("business.website", "")
	viper.SetDefault("business.signature", "")
	viper.SetDefault("business.facts", []string{})
	viper.SetDefault("sync.limit", 20)
	viper.SetDefault("sync.secret", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// sourceConfig builds the Trustpilot credentials from config.
func sourceConfig() trustpilot.Config {
	return trustpilot.Config{
		APIKey:         viper.GetString("trustpilot.api_key"),
		APISecret:      viper.GetString("trustpilot.api_secret"),
		BusinessUnitID: viper.GetString("trustpilot.business_unit_id"),
	}
}

// getSource returns the Trustpilot client. Credentials are not validated
// here; an unconfigured client fails on first use with ErrNotConfigured.
func getSource() *trustpilot.Client {
	return trustpilot.NewClient(sourceConfig())
}

// getGenerator returns the reply draft generator.
func getGenerator() *llm.Client {
	return llm.NewClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
		llm.BusinessProfile{
			Name:      viper.GetString("business.name"),
			Website:   viper.GetString("business.website"),
			Signature: viper.GetString("business.signature"),
			Facts:     viper.GetStringSlice("business.facts"),
		},
	)
}

// getOrchestrator wires the sync pipeline from the shared dependencies.
func getOrchestrator() (*sync.Orchestrator, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return sync.New(s, getSource(), getGenerator()), nil
}

// getApprovals wires the approval surface.
func getApprovals() (*approval.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return approval.NewService(s, getSource()), nil
}

// newLogger returns a slog logger honoring the verbose flag.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
