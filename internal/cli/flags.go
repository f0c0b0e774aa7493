package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mybillbook/reconciler/internal/infrastructure/config"
)

// GlobalFlags are persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// Register binds the flags to cmd as persistent flags
func (f *GlobalFlags) Register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", "config.yaml", "Path to config file (falls back to environment)")
	cmd.PersistentFlags().BoolVarP(&f.Verbose, "verbose", "v", false, "Verbose output")
}

// LoadConfig loads the config file, falling back to environment variables
func (f *GlobalFlags) LoadConfig() *config.Config {
	return config.LoadOrEnv_WithPath(f.ConfigPath)
}

// addUserFlag adds the required --user flag
func addUserFlag(cmd *cobra.Command, userID *int64) {
	cmd.Flags().Int64VarP(userID, "user", "u", 0, "User ID to act for")
	_ = cmd.MarkFlagRequired("user")
}

func checkUser(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("--user must be a positive user ID, got %d", userID)
	}
	return nil
}
