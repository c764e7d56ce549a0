// File: internal/runner/junit.go
package runner

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// WriteJUnit renders runs as a JUnit XML report at path: one testsuite per
// run, one testcase per step. Required step failures become failure nodes.
// Aborted runs and tolerated optional outcomes become skipped nodes, so a CI
// dashboard shows flake tolerance instead of misreporting it as breakage.
func WriteJUnit(path string, runs []*schemas.RunRecord) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "forceps")

	var totalTests, totalFailures, totalSkipped int
	var totalTime time.Duration

	for _, run := range runs {
		if run == nil {
			continue
		}
		suite := root.CreateElement("testsuite")
		suite.CreateAttr("name", run.Scenario)
		suite.CreateAttr("id", run.ID)
		suite.CreateAttr("timestamp", run.StartedAt.UTC().Format("2006-01-02T15:04:05"))
		suite.CreateAttr("time", seconds(run.Elapsed))

		tests, failures, skipped := 0, 0, 0
		for _, step := range run.Steps {
			tests++
			tc := suite.CreateElement("testcase")
			tc.CreateAttr("name", step.Name)
			tc.CreateAttr("classname", run.Scenario)
			tc.CreateAttr("time", seconds(step.Elapsed))

			switch {
			case step.Outcome == string(schemas.OutcomeSkippedAbsent):
				tc.CreateElement("skipped").CreateAttr("message", "optional element absent")
				skipped++
			case step.Outcome != string(schemas.OutcomeFailed):
				// Performed; a bare testcase is a pass.
			case run.Status == schemas.RunAborted:
				tc.CreateElement("skipped").CreateAttr("message", "run aborted: "+step.Error)
				skipped++
			case step.Optional:
				tc.CreateElement("skipped").CreateAttr("message", "optional interaction failed: "+step.Error)
				skipped++
			default:
				f := tc.CreateElement("failure")
				f.CreateAttr("message", fmt.Sprintf("%s failed after %d attempt(s)", step.Action, step.Attempts))
				f.CreateAttr("type", step.Action)
				f.SetText(step.Error)
				failures++
			}
		}

		// A run that never reached a step still needs a verdict in the report.
		if tests == 0 {
			tc := suite.CreateElement("testcase")
			tc.CreateAttr("name", run.Scenario)
			tc.CreateAttr("classname", run.Scenario)
			tc.CreateAttr("time", "0.000")
			message := "no steps recorded"
			if run.Status == schemas.RunAborted {
				message = "run aborted before any step started"
			}
			tc.CreateElement("skipped").CreateAttr("message", message)
			tests, skipped = 1, 1
		}

		suite.CreateAttr("tests", strconv.Itoa(tests))
		suite.CreateAttr("failures", strconv.Itoa(failures))
		suite.CreateAttr("skipped", strconv.Itoa(skipped))

		totalTests += tests
		totalFailures += failures
		totalSkipped += skipped
		totalTime += run.Elapsed
	}

	root.CreateAttr("tests", strconv.Itoa(totalTests))
	root.CreateAttr("failures", strconv.Itoa(totalFailures))
	root.CreateAttr("skipped", strconv.Itoa(totalSkipped))
	root.CreateAttr("time", seconds(totalTime))

	doc.Indent(2)
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("write junit report %s: %w", path, err)
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
