package locator

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/slug"
)

// FilePortDirectory is a PortDirectory backed by a JSON file maintained
// by the container lifecycle tooling:
//
//	{
//	  "anthropic_claude-3-5-sonnet": {
//	    "1": {"backend_port": 5001, "frontend_port": 8001}
//	  }
//	}
//
// The file is read once at construction; the engine treats port
// assignments as stable for the life of a task.
type FilePortDirectory struct {
	bindings map[string]map[string]PortBinding
}

// LoadPortDirectory reads and parses the port registry file. A missing
// file yields an empty directory, not an error: analyses that need ports
// then fail per-task with ErrNoPorts.
func LoadPortDirectory(path string) (*FilePortDirectory, error) {
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return &FilePortDirectory{bindings: map[string]map[string]PortBinding{}}, nil
		}

		return nil, fmt.Errorf("read port directory: %w", readErr)
	}

	var bindings map[string]map[string]PortBinding

	unmarshalErr := json.Unmarshal(raw, &bindings)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse port directory: %w", unmarshalErr)
	}

	return &FilePortDirectory{bindings: bindings}, nil
}

// Lookup implements PortDirectory, probing slug variants for tolerant
// reads against registries written with historical spellings.
func (d *FilePortDirectory) Lookup(canonicalSlug string, appNumber int) (PortBinding, bool) {
	key := strconv.Itoa(appNumber)

	for _, variant := range slug.Variants(canonicalSlug) {
		apps, ok := d.bindings[variant]
		if !ok {
			continue
		}

		binding, ok := apps[key]
		if !ok {
			continue
		}

		if binding.Backend <= 0 && binding.Frontend <= 0 {
			continue
		}

		return binding, true
	}

	return PortBinding{}, false
}

// StaticPortDirectory is a fixed in-memory PortDirectory, used by tests
// and by CLI submissions that carry explicit ports.
type StaticPortDirectory map[string]PortBinding

// Lookup implements PortDirectory on the "slug/appN" key form.
func (d StaticPortDirectory) Lookup(canonicalSlug string, appNumber int) (PortBinding, bool) {
	binding, ok := d[fmt.Sprintf("%s/app%d", canonicalSlug, appNumber)]

	return binding, ok
}
