package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/oci-lxc/deployer/internal/logging"
	"github.com/oci-lxc/deployer/pkg/contextstore"
	"github.com/oci-lxc/deployer/pkg/contextstore/backend"
	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/schema/node"
)

// newLogger builds the CLI logger from the configured level.
func newLogger() *slog.Logger {
	return logging.NewLogger(os.Stderr, logging.ParseLevel(viper.GetString("log-level")))
}

// contextStoreFromFlags builds the context store the global flags describe.
func contextStoreFromFlags(cmd *cobra.Command) (*contextstore.Store, error) {
	backendType := viper.GetString("context-backend")

	options := map[string]string{}
	if kvs, err := cmd.Flags().GetStringArray("context-backend-config"); err == nil {
		for _, kv := range kvs {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid --context-backend-config %q, expected key=value", kv)
			}
			options[parts[0]] = parts[1]
		}
	}

	return contextstore.NewFromConfig(backend.Config{
		Type:    backendType,
		Options: options,
	}, viper.GetString("passphrase"))
}

// loadInventory reads the node inventory from the configured path.
func loadInventory() (*node.Inventory, error) {
	path := viper.GetString("nodes-file")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		path = filepath.Join(home, ".lxc-deployer", "nodes.hcl")
	}
	return node.ParseFile(path)
}

// parseSetFlags turns repeated --set key=value flags into an override map.
func parseSetFlags(values []string) (map[string]string, error) {
	overrides := map[string]string{}
	for _, kv := range values {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", kv)
		}
		overrides[parts[0]] = parts[1]
	}
	return overrides, nil
}

// isInteractive returns true if the CLI is running in an interactive
// terminal and not in a CI environment.
func isInteractive() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	for _, env := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if os.Getenv(env) != "" {
			return false
		}
	}
	return true
}

// formatValidationError extracts and displays validation error details
func formatValidationError(err error) error {
	// Try to extract deployer error with details
	var depErr *errors.Error
	if e, ok := err.(*errors.Error); ok {
		depErr = e
	} else {
		// Check wrapped errors
		unwrapped := err
		for unwrapped != nil {
			if e, ok := unwrapped.(*errors.Error); ok {
				depErr = e
				break
			}
			if u, ok := unwrapped.(interface{ Unwrap() error }); ok {
				unwrapped = u.Unwrap()
			} else {
				break
			}
		}
	}

	if depErr != nil && depErr.Code == errors.ErrCodeValidation {
		// Extract validation error details
		if errList, ok := depErr.Details["problems"].([]string); ok && len(errList) > 0 {
			var sb strings.Builder
			sb.WriteString("validation failed\n")
			sb.WriteString("\nValidation errors:\n")
			for _, e := range errList {
				sb.WriteString(fmt.Sprintf("  - %s\n", e))
			}
			return fmt.Errorf("%s", sb.String())
		}
	}

	return fmt.Errorf("validation failed: %w", err)
}
