package schemas

import "fmt"

// Strategy identifies how a Descriptor's value should be interpreted by an
// engine when locating an element.
type Strategy string

const (
	// StrategyCSS treats the value as a CSS selector.
	StrategyCSS Strategy = "css"
	// StrategyXPath treats the value as an XPath expression.
	StrategyXPath Strategy = "xpath"
	// StrategyID matches the element's id attribute.
	StrategyID Strategy = "id"
	// StrategyName matches the element's name attribute.
	StrategyName Strategy = "name"
	// StrategyText matches elements whose visible text contains the value.
	StrategyText Strategy = "text"
)

// Descriptor is a single way of locating an element. Resolution order is
// significant: callers pass descriptors as an ordered candidate list and the
// first one that yields a visible element wins.
type Descriptor struct {
	Strategy Strategy `json:"strategy" yaml:"strategy" mapstructure:"strategy"`
	Value    string   `json:"value" yaml:"value" mapstructure:"value"`
	// Label is an optional human readable name used in logs and diagnostics.
	Label string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
}

// -- Constructors --

// CSS returns a Descriptor using a CSS selector.
func CSS(selector string) Descriptor {
	return Descriptor{Strategy: StrategyCSS, Value: selector}
}

// XPath returns a Descriptor using an XPath expression.
func XPath(expr string) Descriptor {
	return Descriptor{Strategy: StrategyXPath, Value: expr}
}

// ByID returns a Descriptor matching an element id.
func ByID(id string) Descriptor {
	return Descriptor{Strategy: StrategyID, Value: id}
}

// ByName returns a Descriptor matching a name attribute.
func ByName(name string) Descriptor {
	return Descriptor{Strategy: StrategyName, Value: name}
}

// ByText returns a Descriptor matching on contained text.
func ByText(text string) Descriptor {
	return Descriptor{Strategy: StrategyText, Value: text}
}

// Validate checks that the descriptor is well formed.
func (d Descriptor) Validate() error {
	switch d.Strategy {
	case StrategyCSS, StrategyXPath, StrategyID, StrategyName, StrategyText:
	default:
		return fmt.Errorf("%w: unknown locator strategy %q", ErrInvalidArgument, string(d.Strategy))
	}
	if d.Value == "" {
		return fmt.Errorf("%w: empty locator value for strategy %q", ErrInvalidArgument, string(d.Strategy))
	}
	return nil
}

// String renders the descriptor for logs and error messages. The label takes
// precedence when set.
func (d Descriptor) String() string {
	if d.Label != "" {
		return d.Label
	}
	return string(d.Strategy) + "=" + d.Value
}
