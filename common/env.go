// Package common holds names shared by the ptauto binary and its commands.
package common

// Environment variable names for configuration.
const (
	// ConfigEnv is the environment variable for a custom config file path.
	ConfigEnv = "PTAUTO_CONFIG"

	// DataDirEnv is the environment variable overriding data_dir.
	DataDirEnv = "PTAUTO_DATA_DIR"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "PTAUTO_DEBUG"
)
