package main

import (
	"fmt"
	"guardian/config"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardian",
		Short: "Emergency coordination backend",
		Long: `Guardian coordinates a single emergency at a time: it locates the
device, drafts the operator script, finds the nearest facility, simulates
the dispatch steps and plays a calming message on the device.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load environment variables
			if err := godotenv.Load(); err != nil {
				logrus.Debug("No .env file found")
			}
		},
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(drillCmd())
	cmd.AddCommand(tokenCmd())

	return cmd
}

func tokenCmd() *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a device token for the API and live channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set; device auth is disabled")
			}

			token, err := newJWTService(cfg).GenerateDeviceToken(deviceID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", token.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device identifier embedded in the token")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
}
