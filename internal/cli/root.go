// Package cli implements the lxc-deployer CLI commands.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Import context backends to register them via init()
	_ "github.com/oci-lxc/deployer/pkg/contextstore/backend/awssm"
	_ "github.com/oci-lxc/deployer/pkg/contextstore/backend/azurerm"
	_ "github.com/oci-lxc/deployer/pkg/contextstore/backend/gcs"
	_ "github.com/oci-lxc/deployer/pkg/contextstore/backend/local"
	_ "github.com/oci-lxc/deployer/pkg/contextstore/backend/s3"
)

var (
	cfgFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lxc-deployer",
	Short: "Deploy OCI-packaged applications into Proxmox LXC containers",
	Long: `lxc-deployer resolves application templates from catalogs and executes
their lifecycle phases against Proxmox VE nodes.

Application authors describe deployments as parameterized shell templates
split between the Proxmox host and the LXC guest; the deployer binds
parameters, evaluates conditions, chains template outputs, and records the
resulting deployment context per node.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lxc-deployer/config.yaml)")
	rootCmd.PersistentFlags().String("context-backend", "local", "Context backend type (local, s3, gcs, azurerm, awssm)")
	rootCmd.PersistentFlags().StringArray("context-backend-config", nil, "Context backend configuration (key=value)")
	rootCmd.PersistentFlags().String("passphrase", "", "Passphrase sealing context records at rest")
	rootCmd.PersistentFlags().String("nodes-file", "", "Node inventory file (default is $HOME/.lxc-deployer/nodes.hcl)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	// Bind to viper
	_ = viper.BindPFlag("context-backend", rootCmd.PersistentFlags().Lookup("context-backend"))
	_ = viper.BindPFlag("passphrase", rootCmd.PersistentFlags().Lookup("passphrase"))
	_ = viper.BindPFlag("nodes-file", rootCmd.PersistentFlags().Lookup("nodes-file"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("LXC_DEPLOYER")
	viper.AutomaticEnv()

	// Add subcommands
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newContextCmd())
	rootCmd.AddCommand(newNodeCmd())
	rootCmd.AddCommand(newCACmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".lxc-deployer"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// Read config file if it exists
	_ = viper.ReadInConfig()
}
