package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "factbeat",
	Short: "Versioned store of atomic facts extracted from user conversations",
	Long: `factbeat watches a user's chat history, extracts atomic factual claims
with a local or cloud LLM, and keeps one active fact per entity with a full
supersession history behind it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the factbeat version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("factbeat version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(rejectedCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
