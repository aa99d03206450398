package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"moniteur/internal/app"
	"moniteur/internal/config"
	"moniteur/internal/query"
	"moniteur/internal/router"
	"moniteur/internal/util"
)

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "Serve recorded asset metrics over HTTP.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var serveFlags = map[string]string{
	"addr": "server.addr",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	app.AddSharedFlags(rootCmd.PersistentFlags())
	serveCmd.Flags().String("addr", ":"+config.DefaultPort, "Listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := app.Bootstrap("api", cmd.Flags(), serveFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.Viper.ConfigFileUsed() != "" {
		config.Watch(a.Viper, func(cfg *config.Config, err error) {
			if err != nil {
				a.Logger.LogEvent(util.LOG_LEVEL_ERROR, "Config reload rejected, keeping current assets. Err -", err)
				return
			}
			if err := a.Registry.Reload(cfg.Assets); err != nil {
				a.Logger.LogEvent(util.LOG_LEVEL_ERROR, "Asset reload rejected, keeping current assets. Err -", err)
				return
			}
			a.Logger.LogEvent(util.LOG_LEVEL_INFO, "Reloaded", a.Registry.Current().Len(), "assets from", a.Viper.ConfigFileUsed())
		})
	}

	svc := query.NewService(a.Registry, a.Store)
	handler := router.NewHandler(svc, a.Logger, router.Credentials{
		Username: a.Config.Server.Username,
		Password: a.Config.Server.Password,
	})

	return router.Run(ctx, router.NewServer(a.Config.Server.Addr, handler), a.Logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
