package metrics

// Default port for the metrics server if none is specified.
const DefaultMetricsAddress = ":9090"

// DefaultNamespace prefixes every metric this module registers.
const DefaultNamespace = "remora"

// Config defines the configuration structure for the Prometheus metrics
// server and the collectors registered on it.
type Config struct {
	// Address determines the network address where the Prometheus
	// metrics HTTP server listens.
	//
	// Example values:
	//   - ":9090"          → Listen on all interfaces, port 9090
	//   - "127.0.0.1:9100" → Listen only on localhost, port 9100
	//
	// This setting can be configured via:
	//   - YAML configuration with the "address" key
	//   - Environment variable REMORA_METRICS_ADDRESS
	//
	// Default: ":9090"
	Address string `yaml:"address" envconfig:"REMORA_METRICS_ADDRESS"`

	// EnableDefaultCollectors controls whether the built-in Go runtime
	// and process metrics are automatically registered.
	//
	// When true, metrics such as goroutine count, GC stats, and CPU usage
	// will be included automatically. Disable only if you want full
	// manual control over registered collectors.
	//
	// This setting can be configured via:
	//   - YAML configuration with the "enable_default_collectors" key
	//   - Environment variable REMORA_METRICS_ENABLE_DEFAULT_COLLECTORS
	//
	// Default: true
	EnableDefaultCollectors bool `yaml:"enable_default_collectors" envconfig:"REMORA_METRICS_ENABLE_DEFAULT_COLLECTORS"`

	// Namespace sets the prefix for all metrics registered by this module.
	// Useful when running multiple services in the same Prometheus cluster.
	//
	// Example:
	//   Namespace: "billing"
	//   → Metric name becomes "billing_cursors_open"
	//
	// This setting can be configured via:
	//   - YAML configuration with the "namespace" key
	//   - Environment variable REMORA_METRICS_NAMESPACE
	//
	// Default: "remora"
	Namespace string `yaml:"namespace" envconfig:"REMORA_METRICS_NAMESPACE"`

	// ServiceName identifies the service exposing metrics. It is attached
	// as a common label to every metric, which helps distinguish metrics
	// between services in multi-tenant deployments.
	//
	// This setting can be configured via:
	//   - YAML configuration with the "service_name" key
	//   - Environment variable REMORA_METRICS_SERVICE_NAME
	ServiceName string `yaml:"service_name" envconfig:"REMORA_METRICS_SERVICE_NAME"`
}
