package config

// ValidationError describes one configuration problem. Level "error" fails
// Load; Level "warning" is reported but doesn't.
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

var validKVStoreTypes = map[string]bool{"memory": true, "postgres": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "pretty": true}

// ValidateConfiguration checks a loaded Config for internally-inconsistent
// or unusable settings.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errs []ValidationError

	if !validKVStoreTypes[cfg.KVStore.Type] {
		errs = append(errs, ValidationError{
			Field:   "kvstore.type",
			Message: "must be one of: memory, postgres",
			Level:   "error",
		})
	}
	if cfg.KVStore.Type == "postgres" && cfg.KVStore.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "kvstore.dsn",
			Message: "required when kvstore.type is postgres",
			Level:   "error",
		})
	}

	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
			Level:   "error",
		})
	}
	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, pretty",
			Level:   "warning",
		})
	}

	return errs
}
