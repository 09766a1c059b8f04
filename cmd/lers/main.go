// Command lers runs the LERS realtime service: the websocket gateway, the
// REST API it coordinates with, and the background housekeeping jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "lers",
	Short:   "LERS realtime communication service",
	Long:    "Runs the realtime core of the LERS case-management system:\nwebsocket gateway, chat/notification/presence REST API, and housekeeping.",
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
