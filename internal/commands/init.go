package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/txguard-dev/txguard/internal/config"
)

const sampleRules = `description,iban,amount,currency,start_day,end_day
Rent,DE02 1203 0000 0000 2020 51,"-850,00",EUR,1,5
Phone contract,DE44 5001 0517 5407 3249 31,-29.99,EUR,10,15
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a sample configuration and rules file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(absDir, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized txguard in %s\n", absDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func runInit(dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "txguard.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.New(configPath + " already exists, use --force to overwrite")
	}

	cfg := config.Default()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, cfg.Accounts[0].RulesFile), []byte(sampleRules), 0o644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}

	// The sample account reads its password from the environment.
	env := cfg.Accounts[0].Password + "=changeme\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		return fmt.Errorf("writing .env: %w", err)
	}

	return nil
}
