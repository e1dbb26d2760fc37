// Atelier CLI — инструмент командной строки для управления
// pipelines заказов через HTTP API.
//
// Использование:
//
//	atelier [--api-url URL] [--token TOKEN] [--json] pipeline <subcommand> [flags]
//
// Токен администратора также читается из ATELIER_TOKEN.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/atelier/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var token string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "atelier",
		Short:         "Atelier CLI — production pipeline operations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ATELIER_TOKEN"), "Admin bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, token) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewPipelineCmd(clientFn, outputFn))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
