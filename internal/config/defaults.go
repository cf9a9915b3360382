package config

// Default values applied before any file or environment overrides.
const (
	DefaultResultsRoot = "results"
	DefaultAppsRoot    = "generated/apps"
	DefaultPortsFile   = "generated/ports.json"
	DefaultStorePath   = "appaudit.db"

	DefaultDispatcherParallelism = 4
	DefaultPollInterval          = "2s"
	DefaultLeaseTTL              = "2m"
	DefaultLeaseGrace            = "30s"
	DefaultSweepInterval         = "30s"
	DefaultAggregationBudget     = "30s"

	DefaultBreakerThreshold   = 5
	DefaultBreakerCooldown    = "30s"
	DefaultBreakerMaxCooldown = "4m"

	DefaultArtifactInlineThreshold = 64 * 1024
	DefaultRetentionDays           = 30

	DefaultDiagnosticsAddr = "127.0.0.1:9090"
	DefaultLogLevel        = "info"
)

// Default analyzer worker endpoints, matching the standard local
// deployment of the analyzer containers.
var defaultEndpoints = map[string]string{
	"static":      "ws://localhost:2001/ws",
	"dynamic":     "ws://localhost:2002/ws",
	"performance": "ws://localhost:2003/ws",
	"ai":          "ws://localhost:2004/ws",
}
