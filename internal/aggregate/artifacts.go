package aggregate

import (
	"fmt"
	"path"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/registry"
)

// DefaultArtifactThreshold is the inline-size ceiling for free-form tool
// output. SARIF artifacts are extracted regardless of size.
const DefaultArtifactThreshold = 64 * 1024

// artifactDir is the subdirectory artifacts are referenced under. The
// persister writes them there; the name is an external contract.
const artifactDir = "sarif"

// Artifact is one extracted side file, ready for the persister.
type Artifact struct {
	// Name is the file name under the task's sarif/ directory.
	Name    string
	Content []byte
}

// ExtractArtifacts moves bulky embedded tool output out of the document:
// every SARIF object, plus any raw blob over threshold bytes, is replaced
// by an artifact_ref pointing at a side file. Only the tools section is
// touched. threshold <= 0 selects the default.
func ExtractArtifacts(result *AggregatedResult, threshold int) []Artifact {
	if threshold <= 0 {
		threshold = DefaultArtifactThreshold
	}

	var artifacts []Artifact

	for tool, entry := range result.Tools {
		var content []byte

		switch {
		case len(entry.Sarif) > 0:
			content = entry.Sarif
			entry.Sarif = nil
		case len(entry.Raw) > threshold:
			content = entry.Raw
			entry.Raw = nil
		default:
			continue
		}

		name := ArtifactName(entry.Service, tool)
		entry.ArtifactRef = path.Join(artifactDir, name)
		result.Tools[tool] = entry

		artifacts = append(artifacts, Artifact{
			Name:    name,
			Content: content,
		})
	}

	return artifacts
}

// ArtifactName builds the side-file name for one tool's artifact.
func ArtifactName(service, tool string) string {
	return fmt.Sprintf("%s_%s_%s.sarif.json", service, registry.Category(tool), tool)
}
