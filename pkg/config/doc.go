// Package config loads storefront configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML file
// named by SAK_CONFIG_FILE, then SAK_* environment variables. The merged result is
// validated before use.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Watch reports later edits to the YAML file so the log level can change without
// a restart.
package config
