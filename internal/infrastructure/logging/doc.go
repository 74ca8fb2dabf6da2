// Package logging provides structured logging for meshlink.
//
// Loggers wrap log/slog. Every entry carries the service name and build
// version, and components add their own "component" attribute:
//
//	logger := logging.New(cfg.Logging, version)
//	relayLog := logger.Component("relay")
//	relayLog.Info("device ready", "node_id", id)
//
// A *Logger satisfies the small Logger interfaces declared by the relay,
// meshcore and mqtt packages, so it can be handed to them directly.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Message bodies are user content. Log their length, not the text.
package logging
