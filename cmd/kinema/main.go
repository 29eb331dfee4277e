package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "kinema",
	Short: "Animated concept explanations with comprehension checks",
	Long: `kinema turns a concept into a short Manim-rendered explanation video,
then asks a single comprehension question about it. A wrong answer replaces
the lesson with a simpler re-explanation and a fresh question.

The server exposes the lesson API over HTTP and the same operations to agent
clients over MCP stdio.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cobra.OnInitialize(func() {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	})

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
