// Package main implements the memoryd daemon: a multi-tenant semantic
// memory service over Qdrant, exposed through an HTTP gateway and an MCP
// stdio gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Multi-tenant semantic memory service",
	Long: `memoryd distills free-text snippets into durable memory records,
embeds and persists them in Qdrant, and answers tenant-scoped semantic
queries with recency-decayed ranking.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default: $MEMORY_CONFIG_FILE, then config/memory-config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the memoryd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("memoryd %s\n", version)
	},
}
