package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "real-time notifications for the patient portal",
	Long: `Portal serves the patient records API, and pushes a notification to
every dashboard watching a patient when a record or prescription is added.
Dashboards subscribe over websocket (/ws) or server-sent events (/api/events).

Run the server with "portal serve", and watch it with "portal watch".`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
