// Package config loads scribe's configuration.
//
// # Layers
//
// Configuration is layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← SCRIBE_*
//	├─────────────────────────────┤
//	│  2. User Settings           │  ← ~/.config/scribe/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │
//	└─────────────────────────────┘
//
// A missing file is not an error. Command line flags are applied by the
// caller after Load.
//
// # Configuration Files
//
//	[editor]
//	tab_width = 4
//	max_undo_entries = 1000
//
//	[safety]
//	auto_save = true
//	auto_save_interval = "30s"
//
//	[history]
//	retention = { policy = "commits", value = 500 }
//	large_files = { threshold_mb = 50, strategy = "skip" }
//
// Storage paths left empty default to directories under DataDir.
//
// # Error Handling
//
// A malformed file yields a *ParseError. Validate joins every range or
// spelling problem it finds into one error.
package config
