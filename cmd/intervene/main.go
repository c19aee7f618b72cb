package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AtRiskMedia/intervene/internal/application/startup"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

var version = "0.1.0-dev"

// flagKeys maps persistent flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"port":          "PORT",
	"db-driver":     "DATABASE_DRIVER",
	"sqlite-path":   "SQLITE_PATH",
	"policy-source": "POLICY_SOURCE",
	"policy-file":   "POLICY_FILE",
	"log-level":     "LOG_LEVEL",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "intervene",
		Short: "Behavior classification and intervention delivery",
		Long: `intervene classifies raw interaction samples into emotion events,
routes them through per-tenant policies and delivers interventions over
a live push channel and signed webhooks.

Every flag can also be set through the environment or a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd.Flags())
		},
	}

	rootCmd.PersistentFlags().String("port", "", "HTTP listen port (PORT)")
	rootCmd.PersistentFlags().String("db-driver", "", "Database driver: sqlite3 or libsql (DATABASE_DRIVER)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "SQLite database path (SQLITE_PATH)")
	rootCmd.PersistentFlags().String("policy-source", "", "Policy source: database or file (POLICY_SOURCE)")
	rootCmd.PersistentFlags().String("policy-file", "", "YAML policy document (POLICY_FILE)")
	rootCmd.PersistentFlags().String("log-level", "", "Default log level (LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newSimulateCmd(),
		newSweepCmd(),
		newPolicyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bindFlags pushes explicitly set flags into the shared viper instance and
// reloads pkg/config so they take precedence over the environment.
func bindFlags(flags *pflag.FlagSet) error {
	v := config.Viper()
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	config.Load()
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("intervene version %s\n", version)
			}
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest, push and webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := startup.Initialize(ctx); err != nil {
				return fmt.Errorf("application startup failed: %w", err)
			}
			log.Println("Application has shut down gracefully.")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
