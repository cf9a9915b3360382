// Package analyzer implements the dispatcher-side half of the transport to
// the long-running analyzer services: one client per service kind, each
// managing a bounded pool of framed request/response WebSocket channels
// with health probing and circuit breaking.
package analyzer

import "time"

// Service identifies one analyzer service kind.
type Service string

// Analyzer service kinds.
const (
	ServiceStatic      Service = "static"
	ServiceDynamic     Service = "dynamic"
	ServicePerformance Service = "performance"
	ServiceAI          Service = "ai"
)

// Services lists all service kinds in the fixed order used for
// deterministic aggregation and iteration.
func Services() []Service {
	return []Service{ServiceStatic, ServiceDynamic, ServicePerformance, ServiceAI}
}

// Valid reports whether the service kind is known.
func (s Service) Valid() bool {
	switch s {
	case ServiceStatic, ServiceDynamic, ServicePerformance, ServiceAI:
		return true
	default:
		return false
	}
}

// RequiresEndpoints reports whether analyses on this service need live
// application URLs (and therefore resolved ports).
func (s Service) RequiresEndpoints() bool {
	return s == ServiceDynamic || s == ServicePerformance
}

// MessageType returns the request message type sent to this service's
// workers.
func (s Service) MessageType() string {
	switch s {
	case ServiceStatic:
		return "static_analyze"
	case ServiceDynamic:
		return "dynamic_analyze"
	case ServicePerformance:
		return "performance_test"
	case ServiceAI:
		return "ai_analyze"
	default:
		return "analyze"
	}
}

// Default per-service request deadlines. Dynamic and performance runs
// drive a live application and are given the longest budget.
const (
	DefaultStaticTimeout      = 300 * time.Second
	DefaultDynamicTimeout     = 900 * time.Second
	DefaultPerformanceTimeout = 900 * time.Second
	DefaultAITimeout          = 600 * time.Second
)

// DefaultTimeout returns the default request deadline for the service.
func (s Service) DefaultTimeout() time.Duration {
	switch s {
	case ServiceStatic:
		return DefaultStaticTimeout
	case ServiceDynamic:
		return DefaultDynamicTimeout
	case ServicePerformance:
		return DefaultPerformanceTimeout
	case ServiceAI:
		return DefaultAITimeout
	default:
		return DefaultStaticTimeout
	}
}
