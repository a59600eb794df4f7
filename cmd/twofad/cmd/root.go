package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "twofad",
	Short: "twofad is a two-factor authentication server",
	Long: `A second-factor authentication server brokering credential logins,
device pairing, push-notification approval and rotating one-time codes
between authenticator clients and relying parties.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a TOML config file")
}
