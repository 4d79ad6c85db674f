package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sockline",
		Short: "SockJS server for Go services",
		Long: `Sockline is a SockJS server for Go services.

It carries a message stream between browser and server over the best
transport the network allows: websocket where possible, streaming or
long-polling where it is not. Every transport presents the same
ordered session to the application.

  • SockJS 0.3.3 protocol, tested against the reference suite
  • WebSocket, xhr streaming and polling, eventsource, htmlfile, jsonp
  • Raw websocket endpoint for non-browser clients
  • Prometheus metrics and OpenTelemetry tracing middleware`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
