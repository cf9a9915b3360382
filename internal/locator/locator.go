// Package locator resolves (canonical slug, app number) pairs to the
// generated application's source directory and, when available, its live
// port bindings. Lookups tolerate historical slug spellings via the
// variant list; writes elsewhere always use the canonical form.
package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/slug"
)

// Sentinel errors surfaced to the dispatcher. Their messages feed task
// error strings verbatim, so downstream consumers match on them.
var (
	// ErrAppNotFound means no source directory exists under any variant.
	ErrAppNotFound = errors.New("app does not exist")
	// ErrNoPorts means the analysis needs live endpoints but none are
	// registered. There is never a synthetic fallback.
	ErrNoPorts = errors.New("no port configuration")
)

// PortBinding is the pair of host ports a generated app listens on.
type PortBinding struct {
	Backend  int `json:"backend_port"`
	Frontend int `json:"frontend_port"`
}

// App is a resolved application target.
type App struct {
	// Slug is the canonical slug the caller asked for, never the variant
	// that happened to match on disk.
	Slug      string
	AppNumber int
	SourceDir string

	// Ports is nil when no binding is registered.
	Ports *PortBinding
}

// PortDirectory maps an app to its live port bindings.
type PortDirectory interface {
	// Lookup returns the binding and whether one is registered.
	Lookup(canonicalSlug string, appNumber int) (PortBinding, bool)
}

// Locator resolves apps under a models root directory laid out as
// <root>/<slug>/app<N>/.
type Locator struct {
	root  string
	ports PortDirectory
}

// New creates a locator over the given models root. ports may be nil when
// no port directory is available; analyses needing endpoints then fail
// with ErrNoPorts.
func New(root string, ports PortDirectory) *Locator {
	return &Locator{
		root:  root,
		ports: ports,
	}
}

// Resolve finds the source directory for the app, probing every slug
// variant in order. Port bindings are attached when registered; callers
// that require them must treat their absence as fatal.
func (l *Locator) Resolve(canonicalSlug string, appNumber int) (App, error) {
	appDir := fmt.Sprintf("app%d", appNumber)

	for _, variant := range slug.Variants(canonicalSlug) {
		candidate := filepath.Join(l.root, variant, appDir)

		info, statErr := os.Stat(candidate)
		if statErr != nil || !info.IsDir() {
			continue
		}

		app := App{
			Slug:      canonicalSlug,
			AppNumber: appNumber,
			SourceDir: candidate,
		}

		if l.ports != nil {
			if binding, ok := l.ports.Lookup(canonicalSlug, appNumber); ok {
				app.Ports = &binding
			}
		}

		return app, nil
	}

	return App{}, fmt.Errorf("%w: %s/app%d under %s", ErrAppNotFound, canonicalSlug, appNumber, l.root)
}

// TargetURLs builds the live endpoint list for analyses that drive the
// running app. Returns ErrNoPorts when no binding is attached.
func (a App) TargetURLs() ([]string, error) {
	if a.Ports == nil {
		return nil, fmt.Errorf("%w for %s/app%d", ErrNoPorts, a.Slug, a.AppNumber)
	}

	urls := make([]string, 0, 2)

	if a.Ports.Backend > 0 {
		urls = append(urls, fmt.Sprintf("http://localhost:%d", a.Ports.Backend))
	}

	if a.Ports.Frontend > 0 {
		urls = append(urls, fmt.Sprintf("http://localhost:%d", a.Ports.Frontend))
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("%w for %s/app%d", ErrNoPorts, a.Slug, a.AppNumber)
	}

	return urls, nil
}
