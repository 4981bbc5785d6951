// Package config defines configuration for the plyfetch CLI.
//
// Configuration layers, lowest precedence first:
//   - Defaults ([Default])
//   - YAML configuration file ([LoadFromFile])
//   - Environment variables, PLYFETCH_ prefix ([Config.LoadFromEnv])
//   - Command-line flags (merged via [Config.Merge])
//
// The server address and all transfer knobs are explicit values handed to
// the API client and scheduler; nothing reads ambient process state, which
// keeps tests against fake servers trivial.
package config
