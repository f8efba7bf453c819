package main

import (
	"fmt"
	"os"

	"github.com/RoknuzzamanRokon/chat-gateway/cmd/chat-gateway/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chat-gateway",
		Short: "Product-inquiry chat gateway",
		Long:  "A WebSocket gateway that routes product-inquiry chat between customers and admins, with connection pooling and abuse control",
	}

	rootCmd.AddCommand(commands.NewServeCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
