// Package logging provides structured logging with per-module log level configuration.
//
// Records go through slog to every available output: stdout (text or json), the systemd
// journal when journald is reachable, and an in-memory ring buffer that backs the log
// streaming endpoint. A callback registered with [SetLogCallback] sees every buffered entry.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"decodebin": "debug",
//			"rtpparse":  "warn",
//		},
//	})
//
// and get a logger per module:
//
//	logger := logging.GetLogger("decodebin").With("slot", id)
//	logger.Debug("slot reassigned", "stream_id", sid)
//
// Loggers may be obtained before Initialize; they follow the configuration once it is set.
// Module levels can be changed at runtime with [SetModuleLevel].
//
// Journal entries carry SYSLOG_IDENTIFIER=decodebin and upper-cased attribute fields:
//
//	journalctl -t decodebin MODULE=decodebin -f
//
// TOML form:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	decodebin = "debug"
package logging
