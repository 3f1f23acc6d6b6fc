// Package config loads and saves the netbridge configuration file.
//
// The file is YAML and holds defaults for every command: log level, worker
// granularity, and the server, client and discovery sections. Command-line
// flags override whatever the file sets.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/netbridge/config.yaml or $HOME/.config/netbridge/config.yaml
//   - macOS: $HOME/.config/netbridge/config.yaml
//   - Windows: %LOCALAPPDATA%\netbridge\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	granularity := config.Duration(cfg.Granularity, 200*time.Millisecond)
//
//	cfg.Discovery.Targets = append(cfg.Discovery.Targets, "Studio")
//	if err := cfg.Save(""); err != nil {
//	    log.Fatal(err)
//	}
//
// Save writes to a temporary file and renames it into place, so a crash
// never leaves a truncated file.
package config
