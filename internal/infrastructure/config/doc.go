// Package config loads and validates Gray Logic Fluent configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, an
// optional .env file in the working directory, then GRAYLOGIC_*
// environment variables. Validate collects every problem at once so a
// broken file is fixed in one pass.
//
// Secrets (MQTT password, InfluxDB token) belong in the environment or
// .env, not in the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Site.Name, cfg.Rules.File)
package config
