package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rp"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage rp configuration.

Running bare 'rp config' is the same as 'rp config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

var configTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify Trustpilot credentials and business unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configTestRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configTestCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# rp configuration
# See: rp config show (for effective values and sources)

# SQLite database path (default: ~/.config/rp/rp.db)
# db_path: {{ .DBPath }}

# Trustpilot API credentials
trustpilot:
  api_key: "{{ .TrustpilotAPIKey }}"
  api_secret: "{{ .TrustpilotAPISecret }}"
  business_unit_id: "{{ .TrustpilotBusinessUnitID }}"

# Anthropic settings for reply generation
anthropic:
  api_key: "{{ .AnthropicAPIKey }}"
  model: "{{ .AnthropicModel }}"

# Business identity used in generated replies
business:
  name: "{{ .BusinessName }}"
  website: "{{ .BusinessWebsite }}"
  # Reply signature (default: "Lo staff di <name>")
  signature: "{{ .BusinessSignature }}"

# Sync settings
sync:
  # Default batch size per run
  limit: {{ .SyncLimit }}

  # Bearer secret required by POST /api/v1/sync (empty = unauthenticated)
  secret: "{{ .SyncSecret }}"
`

type configTemplateData struct {
	DBPath                   string
	TrustpilotAPIKey         string
	TrustpilotAPISecret      string
	TrustpilotBusinessUnitID string
	AnthropicAPIKey          string
	AnthropicModel           string
	BusinessName             string
	BusinessWebsite          string
	BusinessSignature        string
	SyncLimit                int
	SyncSecret               string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:                   viper.GetString("db_path"),
		TrustpilotAPIKey:         viper.GetString("trustpilot.api_key"),
		TrustpilotAPISecret:      viper.GetString("trustpilot.api_secret"),
		TrustpilotBusinessUnitID: viper.GetString("trustpilot.business_unit_id"),
		AnthropicAPIKey:          viper.GetString("anthropic.api_key"),
		AnthropicModel:           viper.GetString("anthropic.model"),
		BusinessName:             viper.GetString("business.name"),
		BusinessWebsite:          viper.GetString("business.website"),
		BusinessSignature:        viper.GetString("business.signature"),
		SyncLimit:                viper.GetInt("sync.limit"),
		SyncSecret:               viper.GetString("sync.secret"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "RP_DB_PATH"},
	{Key: "trustpilot.api_key", EnvVar: "RP_TRUSTPILOT_API_KEY", Secret: true},
	{Key: "trustpilot.api_secret", EnvVar: "RP_TRUSTPILOT_API_SECRET", Secret: true},
	{Key: "trustpilot.business_unit_id", EnvVar: "RP_TRUSTPILOT_BUSINESS_UNIT_ID"},
	{Key: "anthropic.api_key", EnvVar: "RP_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "RP_ANTHROPIC_MODEL"},
	{Key: "business.name", EnvVar: "RP_BUSINESS_NAME"},
	{Key: "business.website", EnvVar: "RP_BUSINESS_WEBSITE"},
	{Key: "business.signature", EnvVar: "RP_BUSINESS_SIGNATURE"},
	{Key: "sync.limit", EnvVar: "RP_SYNC_LIMIT"},
	{Key: "sync.secret", EnvVar: "RP_SYNC_SECRET", Secret: true},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but a short prefix of a credential.
func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:8] + "..."
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'rp config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

func configTestRun() error {
	cfg := sourceConfig()
	if !cfg.Configured() {
		return fmt.Errorf("trustpilot credentials not configured (run 'rp config init' and fill in trustpilot.*)")
	}

	client := getSource()
	bu, err := client.GetBusinessUnit(context.Background())
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	ui.Success("Connected to Trustpilot")
	ui.Info("Business unit: %s (%d reviews)", bu.Name, bu.NumberOfReviews)
	return nil
}
