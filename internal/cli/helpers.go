package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ExitError carries a non-zero process exit code after the JSON result has
// already been printed. main maps it to os.Exit without reprinting.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
}

// printResult writes the command's JSON result object to stdout.
func printResult(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// emit prints either the JSON result object or the human one-liner, depending
// on the command's --json flag.
func emit(cmd *cobra.Command, v interface{}, human string) error {
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return printResult(cmd, v)
	}
	fmt.Fprintln(cmd.OutOrStdout(), human)
	return nil
}
