// Package config loads sqlitetool settings.
//
// Values are layered: built-in defaults, then the YAML file, then
// SQLITETOOL_* environment variables. Validate reports every problem at
// once rather than stopping at the first.
//
// Load(path, true) tolerates a missing file so the binary runs with no
// configuration at all; main passes false when SQLITETOOL_CONFIG names a
// file explicitly.
//
// Keep secrets (SQLITETOOL_JWT_SECRET, SQLITETOOL_INFLUXDB_TOKEN,
// SQLITETOOL_MQTT_PASSWORD) in the environment.
package config
