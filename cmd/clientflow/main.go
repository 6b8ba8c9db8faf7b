package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/internal/controllers"
	"github.com/dmayes77/clientflow/internal/seed"
	"github.com/dmayes77/clientflow/pkg/clientflow"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	tenantID string
	keyName  string
)

var rootCmd = &cobra.Command{
	Use:   "clientflow",
	Short: "Workflow automation engine for client businesses",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := config.LoadFile(cfgFile); err != nil {
				return err
			}
		}
		clientflow.SetupLogger()
		return nil
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return clientflow.Start(ctx, nil)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := clientflow.OpenDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("Database is up to date")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the system workflows for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeDB, err := openApp()
		if err != nil {
			return err
		}
		defer closeDB()
		created, err := seed.SeedTenant(cmd.Context(), app.Workflows, app.Registry, tenantID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d system workflows for tenant %s\n", created, tenantID)
		return nil
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage tenant API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for a tenant and print it once",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeDB, err := openApp()
		if err != nil {
			return err
		}
		defer closeDB()
		raw, key, err := controllers.GenerateApiKey(tenantID, keyName, app.Clock)
		if err != nil {
			return err
		}
		if err := app.ApiKeys.Save(cmd.Context(), key); err != nil {
			return fmt.Errorf("save api key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", raw)
		return nil
	},
}

func openApp() (*clientflow.App, func(), error) {
	db, err := clientflow.OpenDatabase()
	if err != nil {
		return nil, nil, err
	}
	app, err := clientflow.NewApp(db, core.NewRealClock(), clientflow.NewMailer())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return app, func() { db.Close() }, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file with CLIENTFLOW_* keys; environment variables take precedence")

	seedCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = seedCmd.MarkFlagRequired("tenant")

	apikeyCreateCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	apikeyCreateCmd.Flags().StringVar(&keyName, "name", "default", "label stored with the key")
	_ = apikeyCreateCmd.MarkFlagRequired("tenant")
	apikeyCmd.AddCommand(apikeyCreateCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, apikeyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
