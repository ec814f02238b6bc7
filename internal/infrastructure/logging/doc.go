// Package logging provides structured logging for Gray Logic Fluent.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes. Components get a child logger via Named so
// every entry carries a logger attribute (items, rules, fluent, mqtt, api).
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
//	log := logging.New(cfg.Logging, version)
//	rulesLog := log.Named("rules")
//	rulesLog.Info("rule registered", "uid", uid)
//
// Tests that do not care about output use logging.Nop().
//
// Never log secrets, tokens or passwords.
package logging
