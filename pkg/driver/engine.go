// Package driver layers flake tolerance over a minimal browser engine
// boundary: ordered locator fallback, extraction with defaults, and optional
// interactions that distinguish "absent" from "broken". The package owns no
// engine of its own; anything that can open a page and answer the five
// element questions below can sit underneath it.
package driver

import (
	"context"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Engine opens pages. Implementations live in internal/engine.
type Engine interface {
	// Open navigates to url and returns a handle once the page is usable.
	Open(ctx context.Context, url string) (Page, error)
	// Close releases every resource the engine holds.
	Close(ctx context.Context) error
}

// Page is one loaded document.
type Page interface {
	// Locate finds the first element matching d. Absence is not an error:
	// a missing element returns (nil, nil) and the caller decides whether
	// that is a problem. Errors signal engine faults.
	Locate(ctx context.Context, d schemas.Descriptor) (Element, error)
	// URL reports the page's current address.
	URL() string
}

// Element is a handle to a located element.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	// Text returns the element's visible text content.
	Text(ctx context.Context) (string, error)
	// Attribute returns the named attribute's value and whether it exists.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
	// Fill replaces the element's value with the given text.
	Fill(ctx context.Context, value string) error
	// Dismiss closes or removes the element, e.g. a dialog or banner.
	Dismiss(ctx context.Context) error
}
