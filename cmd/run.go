// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/apiclient"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/engine"
	"github.com/xkilldash9x/forceps/internal/observability"
	"github.com/xkilldash9x/forceps/internal/runner"
	"github.com/xkilldash9x/forceps/internal/store"
	"github.com/xkilldash9x/forceps/internal/testdata"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

// errRunsFailed signals a non-zero exit without a redundant error log; the
// per-scenario summary has already been printed by then.
var errRunsFailed = errors.New("one or more scenarios failed")

// runComponents holds the long-lived pieces a run needs, so setup and
// teardown live in one place.
type runComponents struct {
	Engine driver.Engine
	DBPool *pgxpool.Pool
	Store  *store.Store
	API    *apiclient.Client
	Runner *runner.Runner
}

// Shutdown releases engine and database resources. It uses a fresh timeout
// context because the command context is usually already cancelled when
// teardown runs.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.Engine != nil {
		if err := rc.Engine.Close(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during engine shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios from the fixture file against their targets",
		Long: `Run executes the named scenarios from the scenario fixture file, or every
scenario in the file when none are named. Each scenario drives its target
page step by step, retrying transient trouble and tolerating the optional
elements it declares. The command exits non-zero when any run fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(cmd)
			if err != nil {
				return err
			}

			target, _ := cmd.Flags().GetString("target")
			failFast, _ := cmd.Flags().GetBool("fail-fast")
			cfg.SetRunConfig(config.RunConfig{Scenarios: args, Target: target, FailFast: failFast})

			selected, err := loadScenarios(cfg, logger)
			if err != nil {
				return err
			}

			comps, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if comps != nil {
					comps.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer comps.Shutdown()

			records, runErr := comps.Runner.RunAll(ctx, selected, cfg.Runner().Concurrency)

			if junitPath := cfg.Runner().JUnitFile; junitPath != "" && len(records) > 0 {
				if err := runner.WriteJUnit(junitPath, records); err != nil {
					logger.Error("Failed to write JUnit report", zap.String("path", junitPath), zap.Error(err))
				} else {
					logger.Info("JUnit report written", zap.String("path", junitPath))
				}
			}

			comps.publishRuns(ctx, records, logger)
			summary := printSummary(cmd, records)

			if runErr != nil {
				return runErr
			}
			if summary.failed > 0 {
				return errRunsFailed
			}
			return nil
		},
	}

	runCmd.Flags().StringP("data", "d", "", "scenario fixture file (default <data.dir>/scenarios.yaml)")
	runCmd.Flags().String("target", "", "override the target URL of every selected scenario")
	runCmd.Flags().StringP("engine", "e", "", "page engine to drive: cdp or static")
	runCmd.Flags().Bool("headless", true, "run the browser engine without a visible window")
	runCmd.Flags().StringP("junit", "o", "", "write a JUnit XML report to this path")
	runCmd.Flags().IntP("concurrency", "j", 0, "number of scenarios to run in parallel")
	runCmd.Flags().Bool("fail-fast", false, "stop scheduling new scenarios after the first failure")

	return runCmd
}

// loadScenarios reads the fixture file, validates it and applies the
// selection and target override from the run config.
func loadScenarios(cfg config.Interface, logger *zap.Logger) ([]runner.Scenario, error) {
	dataFile := cfg.Data().File
	if dataFile == "" {
		dataFile = filepath.Join(cfg.Data().Dir, "scenarios.yaml")
	}

	registry, err := testdata.NewRegistry(dataFile, logger)
	if err != nil {
		return nil, err
	}
	scenarios, err := runner.ScenariosFromRegistry(registry)
	if err != nil {
		return nil, err
	}

	run := cfg.Run()
	selected, err := runner.SelectScenarios(scenarios, run.Scenarios)
	if err != nil {
		return nil, err
	}
	if run.Target != "" {
		for i := range selected {
			selected[i].Target = run.Target
		}
	}
	return selected, nil
}

// initializeRunComponents builds the engine, the optional run store, the
// optional results API client and the runner that ties them together. On
// error the partially built components are returned so the caller can shut
// down whatever already exists.
func initializeRunComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*runComponents, error) {
	comps := &runComponents{}

	eng, err := engine.New(cfg.Engine(), logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize %s engine: %w", cfg.Engine().Kind, err)
	}
	comps.Engine = eng

	// Run history is persisted only when a database is configured.
	var archive runner.RunArchiver
	if dbURL := cfg.Database().URL; dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return comps, fmt.Errorf("failed to connect to database: %w", err)
		}
		comps.DBPool = pool

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return comps, fmt.Errorf("failed to initialize run store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return comps, fmt.Errorf("failed to prepare run history schema: %w", err)
		}
		comps.Store = st
		archive = st
	} else {
		logger.Info("database.url not set; run history will not be persisted")
	}

	if cfg.API().BaseURL != "" {
		api, err := apiclient.New(cfg.API(), cfg.Retry(), logger)
		if err != nil {
			return comps, fmt.Errorf("failed to initialize api client: %w", err)
		}
		comps.API = api
	}

	r, err := runner.New(cfg, eng, archive, logger)
	if err != nil {
		return comps, fmt.Errorf("failed to build runner: %w", err)
	}
	comps.Runner = r
	return comps, nil
}

// publishRuns pushes finished records to the results backend when one is
// configured. Publishing is best effort; an unreachable backend never
// changes the verdict of a run.
func (rc *runComponents) publishRuns(ctx context.Context, records []*schemas.RunRecord, logger *zap.Logger) {
	if rc.API == nil {
		return
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := rc.API.PostJSON(ctx, "/api/v1/runs", rec, nil); err != nil {
			logger.Warn("Failed to publish run record",
				zap.String("run_id", rec.ID),
				zap.String("scenario", rec.Scenario),
				zap.Error(err))
		}
	}
}

type runSummary struct {
	passed  int
	failed  int
	aborted int
}

// printSummary writes the per-scenario verdict table and the totals line to
// the command's output and returns the tally.
func printSummary(cmd *cobra.Command, records []*schemas.RunRecord) runSummary {
	var s runSummary
	cmd.Println()
	for _, rec := range records {
		if rec == nil {
			continue
		}
		switch rec.Status {
		case schemas.RunPassed:
			s.passed++
		case schemas.RunAborted:
			s.aborted++
		default:
			s.failed++
		}
		cmd.Printf("  %-8s %s (%d step(s) in %s)\n",
			strings.ToUpper(string(rec.Status)), rec.Scenario, len(rec.Steps), rec.Elapsed.Round(time.Millisecond))
	}
	cmd.Printf("\n%d passed, %d failed, %d aborted\n", s.passed, s.failed, s.aborted)
	return s
}
