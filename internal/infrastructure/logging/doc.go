// Package logging provides structured logging for the StudySync auth core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for local work, and the service and version fields on
// every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("server started", "port", 8080)
//
// # Security
//
// Never log raw credentials or passwords. Log a short prefix of the
// credential digest instead:
//
//	logger.Warn("credential rejected", "token_hash", hash[:12])
package logging
