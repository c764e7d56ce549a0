// File: internal/runner/scenario.go

// Package runner executes declarative UI scenarios against a page engine. A
// scenario is an ordered list of steps (navigate, interact, extract, wait)
// loaded from the fixture registry; the runner drives each step through the
// resilience layer and records what happened, it asserts nothing itself.
package runner

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/testdata"
	"github.com/xkilldash9x/forceps/pkg/textnorm"
)

// Action names one kind of scenario step.
type Action string

const (
	// ActionNavigate opens a URL: the step value, or the scenario target
	// when the value is empty.
	ActionNavigate Action = "navigate"
	// ActionClick clicks the first locator candidate that resolves.
	ActionClick Action = "click"
	// ActionFill replaces the resolved element's value with the step value.
	ActionFill Action = "fill"
	// ActionDismiss removes the resolved element, e.g. a cookie banner.
	ActionDismiss Action = "dismiss"
	// ActionExtractText reads the resolved element's text, falling back to
	// the step default when nothing resolves.
	ActionExtractText Action = "extract_text"
	// ActionExtractPrice reads the element's text and parses the first
	// price out of it. The step value carries the currency symbol.
	ActionExtractPrice Action = "extract_price"
	// ActionWaitText polls until the resolved element's text contains the
	// step value.
	ActionWaitText Action = "wait_text"
)

// Step is one unit of scenario work.
type Step struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Action Action `mapstructure:"action" yaml:"action"`
	// Locators is the ordered candidate list handed to the resolver. Every
	// action except navigate requires at least one.
	Locators []schemas.Descriptor `mapstructure:"locators" yaml:"locators"`
	// Value is action dependent: the URL for navigate, the input for fill,
	// the awaited text for wait_text, the currency symbol for extract_price.
	Value string `mapstructure:"value" yaml:"value"`
	// Default substitutes for an absent extraction target.
	Default string `mapstructure:"default" yaml:"default"`
	// Optional marks an interaction whose target may legitimately not
	// exist; absence is then a skip, not a failure.
	Optional bool `mapstructure:"optional" yaml:"optional"`
	// Timeout overrides the inner budget of the step's operation: the
	// locator resolution total, or the wait budget for wait_text. Zero
	// keeps the configured default.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate checks that the step is executable.
func (s Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: step name is required", schemas.ErrInvalidArgument)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: step %q has a negative timeout", schemas.ErrInvalidArgument, s.Name)
	}

	switch s.Action {
	case ActionNavigate:
		if s.Optional {
			return fmt.Errorf("%w: step %q: navigate steps cannot be optional", schemas.ErrInvalidArgument, s.Name)
		}
		if len(s.Locators) > 0 {
			return fmt.Errorf("%w: step %q: navigate does not take locators", schemas.ErrInvalidArgument, s.Name)
		}
		return nil
	case ActionClick, ActionFill, ActionDismiss, ActionExtractText, ActionExtractPrice, ActionWaitText:
	default:
		return fmt.Errorf("%w: step %q has unknown action %q", schemas.ErrInvalidArgument, s.Name, string(s.Action))
	}

	if len(s.Locators) == 0 {
		return fmt.Errorf("%w: step %q (%s) requires at least one locator", schemas.ErrInvalidArgument, s.Name, s.Action)
	}
	for i, d := range s.Locators {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("step %q locator %d: %w", s.Name, i+1, err)
		}
	}

	switch s.Action {
	case ActionWaitText:
		if s.Value == "" {
			return fmt.Errorf("%w: step %q: wait_text requires a value", schemas.ErrInvalidArgument, s.Name)
		}
		if s.Optional {
			return fmt.Errorf("%w: step %q: wait_text steps cannot be optional", schemas.ErrInvalidArgument, s.Name)
		}
	case ActionExtractText, ActionExtractPrice:
		if s.Optional {
			return fmt.Errorf("%w: step %q: extractions tolerate absence through their default, not the optional flag", schemas.ErrInvalidArgument, s.Name)
		}
		if s.Action == ActionExtractPrice && s.Default != "" {
			if _, ok := textnorm.CleanCurrency(s.Default); !ok {
				return fmt.Errorf("%w: step %q: default %q is not a parseable amount", schemas.ErrInvalidArgument, s.Name, s.Default)
			}
		}
	}
	return nil
}

// Scenario is a named flow against one target.
type Scenario struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Target string `mapstructure:"target" yaml:"target"`
	Steps  []Step `mapstructure:"steps" yaml:"steps"`
}

// Validate checks the scenario and all of its steps. The first step must be a
// navigation so every later step has a page to work on.
func (sc Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("%w: scenario name is required", schemas.ErrInvalidArgument)
	}
	if sc.Target == "" {
		return fmt.Errorf("%w: scenario %q has no target", schemas.ErrInvalidArgument, sc.Name)
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: scenario %q has no steps", schemas.ErrInvalidArgument, sc.Name)
	}
	if sc.Steps[0].Action != ActionNavigate {
		return fmt.Errorf("%w: scenario %q must start with a navigate step", schemas.ErrInvalidArgument, sc.Name)
	}
	for i, st := range sc.Steps {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", sc.Name, i+1, err)
		}
	}
	return nil
}

// scenariosSection is the fixture section scenarios are loaded from.
const scenariosSection = "scenarios"

// ScenariosFromRegistry decodes and validates the scenarios section of a
// fixture registry.
func ScenariosFromRegistry(reg *testdata.Registry) ([]Scenario, error) {
	var scenarios []Scenario
	if err := reg.UnmarshalSection(scenariosSection, &scenarios); err != nil {
		return nil, err
	}
	for i, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("%s: scenario %d: %w", reg.Path(), i+1, err)
		}
	}
	return scenarios, nil
}

// SelectScenarios filters scenarios by name, in the order requested. An empty
// name list selects everything; an unknown name is an error listing what the
// file provides.
func SelectScenarios(scenarios []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	byName := make(map[string]Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}
	selected := make([]Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			available := make([]string, 0, len(scenarios))
			for _, s := range scenarios {
				available = append(available, s.Name)
			}
			return nil, fmt.Errorf("%w: unknown scenario %q; available: %v", schemas.ErrInvalidArgument, name, available)
		}
		selected = append(selected, sc)
	}
	return selected, nil
}
