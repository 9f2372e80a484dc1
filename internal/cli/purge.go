package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/purge"
)

var purgeCmd = &cobra.Command{
	Use:   "purge PROJECT_DIR",
	Short: "Reset a project: delete generated artifacts, keep inputs and CSV headers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetString("confirm")
		confirm2, _ := cmd.Flags().GetString("confirm2")
		supplied := []string{}
		if cmd.Flags().Changed("confirm") {
			supplied = append(supplied, confirm)
		}
		if cmd.Flags().Changed("confirm2") {
			supplied = append(supplied, confirm2)
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		prompt := func(label string) (string, error) {
			if len(supplied) > 0 {
				answer := supplied[0]
				supplied = supplied[1:]
				return answer, nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", label)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}

		p := purge.New(args[0], cmd.ErrOrStderr(), prompt)
		res, err := p.Run()
		if errors.Is(err, purge.ErrAborted) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Aborted. Nothing was deleted.")
			return &ExitError{Code: 1, Msg: "purge aborted"}
		}
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

func init() {
	purgeCmd.Flags().String("confirm", "", "first confirmation answer (must be 'yes')")
	purgeCmd.Flags().String("confirm2", "", "second confirmation answer (must be 'yes')")
}
