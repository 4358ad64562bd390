package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"whichdex.toml", ".whichdex.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server      string `toml:"server"`
	RPCURL      string `toml:"rpc_url,omitempty"`
	Concurrency int    `toml:"concurrency,omitempty"`
	ChainID     int64  `toml:"chain_id,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var rpc string
	var chainID int64
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a whichdex.toml configuration file in the current directory.

EXAMPLES:
  # Create config with default server
  whichdex config init

  # Create config for a specific server and RPC endpoint
  whichdex config init --server https://whichdex.example.com --rpc https://base.llamarpc.com --chain-id 8453

  # Overwrite existing config
  whichdex config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), "whichdex.toml", ProjectConfig{
				Server:  serverURL,
				RPCURL:  rpc,
				ChainID: chainID,
			}, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVar(&rpc, "rpc", "", "JSON-RPC endpoint")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "default chain id for reference commands")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display every configuration source and the effective values.

EXAMPLES:
  whichdex config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(w io.Writer, configPath string, cfg ProjectConfig, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# whichdex project configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", configPath)
	fmt.Fprintf(w, "  Server:  %s\n", cfg.Server)
	if cfg.RPCURL != "" {
		fmt.Fprintf(w, "  RPC URL: %s\n", cfg.RPCURL)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Run 'whichdex auth login' to authenticate")
	fmt.Fprintln(w, "  2. Run 'whichdex analyze <address>' to identify a pool")

	return nil
}

func runConfigShow(w io.Writer) error {
	fmt.Fprintln(w, "Configuration sources (in order of precedence):")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "1. Command line flags")
	fmt.Fprintln(w, "   --server, --api-key, --rpc-url, --config")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "2. Environment variables")
	for _, name := range []string{"WHICHDEX_SERVER", "WHICHDEX_RPC_URL", "WHICHDEX_API_KEY"} {
		value := os.Getenv(name)
		switch {
		case value == "":
			value = "(not set)"
		case name == "WHICHDEX_API_KEY":
			value = maskAPIKey(value)
		}
		fmt.Fprintf(w, "   %s=%s\n", name, value)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "3. Project config (whichdex.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	default:
		fmt.Fprintf(w, "   Loaded from: %s\n", configPath)
		if projectConfig.Server != "" {
			fmt.Fprintf(w, "   server: %s\n", projectConfig.Server)
		}
		if projectConfig.RPCURL != "" {
			fmt.Fprintf(w, "   rpc_url: %s\n", projectConfig.RPCURL)
		}
		if projectConfig.Concurrency > 0 {
			fmt.Fprintf(w, "   concurrency: %d\n", projectConfig.Concurrency)
		}
		if projectConfig.ChainID != 0 {
			fmt.Fprintf(w, "   chain_id: %d\n", projectConfig.ChainID)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "4. Credentials (%s)\n", credentialsFilePath())
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Fprintln(w, "   (no credentials stored)")
	default:
		for server, cred := range creds.Servers {
			fmt.Fprintf(w, "   %s: %s\n", server, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "   Server:  %s\n", getServer())
	if rpc := getRPCURL(); rpc != "" {
		fmt.Fprintf(w, "   RPC URL: %s\n", rpc)
	} else {
		fmt.Fprintln(w, "   RPC URL: (not set, inline bytecode only)")
	}
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(w, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(w, "   API Key: (not set)")
	}

	return nil
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	// If --config flag was provided, use that directly
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	var config ProjectConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Parse failures are reported on stderr.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}
