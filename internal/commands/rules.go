package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/txguard-dev/txguard/internal/rules"
)

func newRulesCommand() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Rules file operations",
	}
	rulesCmd.AddCommand(newRulesCheckCommand())
	return rulesCmd
}

func newRulesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a rules file and print its rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(args[0], cmd.OutOrStdout())
		},
	}
}

func runRulesCheck(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()

	loaded, err := rules.ReadRules(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fingerprint, err := rules.Fingerprint(path)
	if err != nil {
		return err
	}

	for _, rule := range loaded {
		line := rule.String()
		if rule.Inverted() {
			line += " (never matches: start_day after end_day)"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d rules OK, fingerprint %s\n", len(loaded), fingerprint)
	return nil
}
