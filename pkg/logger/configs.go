package logger

const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// DefaultService is the service tag stamped on every log entry when the
// configuration does not name one.
const DefaultService = "remora"

type Config struct {
	// Level selects the minimum level that is emitted (debug, info,
	// warning, error). Unknown values fall back to info.
	Level string `yaml:"level" envconfig:"REMORA_LOG_LEVEL"`

	// Service overrides the service tag on log entries. Useful when several
	// processes embed remora and share a log pipeline.
	Service string `yaml:"service" envconfig:"REMORA_LOG_SERVICE"`
}
