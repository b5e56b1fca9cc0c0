// Package cmd provides the command-line interface for mlreplace.
package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mlreplace",
	Short: "mlreplace evaluates learned cache replacement policies.",
	Long: `mlreplace evaluates learned cache replacement policies by replaying ` +
		`memory traces through a set-associative cache. Defaults can be set ` +
		`with MLREPLACE_* variables in the environment or in a .env file.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(loadEnv)
}

func loadEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It runs the exit handlers before the program exits.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
