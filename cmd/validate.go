// File: cmd/validate.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/internal/observability"
	"github.com/xkilldash9x/forceps/internal/runner"
	"github.com/xkilldash9x/forceps/internal/testdata"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Parse scenario fixture files and report what they contain",
		Long: `Validate loads each fixture file, checks every scenario and step against
the same rules the run command enforces, and prints a one line verdict per
file. Without arguments it validates the configured fixture file, or sweeps
every fixture file in the data directory when no file is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := configFromContext(cmd)
			if err != nil {
				return err
			}

			files := args
			if len(files) == 0 {
				dataFile := cfg.Data().File
				if dataFile == "" {
					return validateDir(cmd, cfg.Data().Dir, logger)
				}
				files = []string{dataFile}
			}

			invalid := 0
			for _, path := range files {
				if err := validateFile(cmd, path, logger); err != nil {
					invalid++
					cmd.Printf("FAIL %s\n     %v\n", path, err)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d file(s) failed validation", invalid, len(files))
			}
			return nil
		},
	}
}

// validateDir sweeps every fixture file in dir through the same checks, so a
// whole fixture directory can be vetted before anything runs against it.
func validateDir(cmd *cobra.Command, dir string, logger *zap.Logger) error {
	lib := testdata.NewLibrary(dir, logger)
	names, err := lib.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no fixture files found in %s", dir)
	}

	invalid := 0
	for _, name := range names {
		reg, err := lib.Registry(name)
		if err != nil {
			invalid++
			cmd.Printf("FAIL %s\n     %v\n", name, err)
			continue
		}
		if err := validateRegistry(cmd, reg); err != nil {
			invalid++
			cmd.Printf("FAIL %s\n     %v\n", reg.Path(), err)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d file(s) failed validation", invalid, len(names))
	}
	return nil
}

// validateFile loads one fixture file through the registry and the scenario
// decoder, so validate and run can never disagree about what is well formed.
func validateFile(cmd *cobra.Command, path string, logger *zap.Logger) error {
	registry, err := testdata.NewRegistry(path, logger)
	if err != nil {
		return err
	}
	return validateRegistry(cmd, registry)
}

func validateRegistry(cmd *cobra.Command, registry *testdata.Registry) error {
	scenarios, err := runner.ScenariosFromRegistry(registry)
	if err != nil {
		return err
	}

	steps := 0
	names := make([]string, 0, len(scenarios))
	for _, sc := range scenarios {
		steps += len(sc.Steps)
		names = append(names, sc.Name)
	}
	cmd.Printf("OK   %s: %d scenario(s), %d step(s): %s\n", registry.Path(), len(scenarios), steps, strings.Join(names, ", "))
	return nil
}
