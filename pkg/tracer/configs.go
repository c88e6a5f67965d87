package tracer

// Config defines the configuration structure for the OpenTelemetry tracer.
type Config struct {
	// ServiceName identifies this service in trace backends.
	//
	// This setting can be configured via:
	//   - YAML configuration with the "service_name" key
	//   - Environment variable REMORA_TRACER_SERVICE_NAME
	ServiceName string `yaml:"service_name" envconfig:"REMORA_TRACER_SERVICE_NAME"`

	// AppEnv names the deployment environment (development, staging,
	// production). It is attached to every span as a resource attribute.
	//
	// This setting can be configured via:
	//   - YAML configuration with the "app_env" key
	//   - Environment variable REMORA_TRACER_APP_ENV
	AppEnv string `yaml:"app_env" envconfig:"REMORA_TRACER_APP_ENV"`

	// EnableExport controls whether spans are shipped to an OTLP HTTP
	// collector. When false the provider still records spans for local
	// propagation but exports nothing, which is the right default for
	// tests and development.
	//
	// The collector endpoint follows the standard OpenTelemetry
	// environment variables (OTEL_EXPORTER_OTLP_ENDPOINT and friends).
	//
	// This setting can be configured via:
	//   - YAML configuration with the "enable_export" key
	//   - Environment variable REMORA_TRACER_ENABLE_EXPORT
	EnableExport bool `yaml:"enable_export" envconfig:"REMORA_TRACER_ENABLE_EXPORT"`
}
