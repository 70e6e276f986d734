package config

import "os"

// Paths is the resolved set of directories nymead persists and reads from,
// per spec.md §6's environment variable contract.
type Paths struct {
	// ConfigPath is where the HCL config file and rule/KV store data live.
	ConfigPath string
	// DefaultConfigPath holds read-only defaults shipped with the package.
	DefaultConfigPath string
	// PluginsPath is where the (out-of-scope) plugin loader looks for plugins.
	PluginsPath string
	// CachePath is where the discovery cache and other transient data live.
	CachePath string
}

// ResolvePaths implements §6's environment resolution:
//
//	NYMEA_CONFIG_PATH, NYMEA_DEFAULT_CONFIG_PATH, NYMEA_PLUGINS_PATH
//	override the corresponding path directly. SNAP/SNAP_DATA, when set,
//	root every unset path under the snap's data directory. With SNAP unset
//	and effective uid 0, unset paths default to /var/lib/nymea,
//	/etc/nymea, /var/cache/nymea.
func ResolvePaths() Paths {
	p := Paths{
		ConfigPath:        os.Getenv("NYMEA_CONFIG_PATH"),
		DefaultConfigPath: os.Getenv("NYMEA_DEFAULT_CONFIG_PATH"),
		PluginsPath:       os.Getenv("NYMEA_PLUGINS_PATH"),
	}

	snapData := os.Getenv("SNAP_DATA")
	if os.Getenv("SNAP") != "" && snapData != "" {
		if p.ConfigPath == "" {
			p.ConfigPath = snapData + "/var/lib/nymea"
		}
		if p.DefaultConfigPath == "" {
			p.DefaultConfigPath = snapData + "/etc/nymea"
		}
		if p.PluginsPath == "" {
			p.PluginsPath = snapData + "/nymea/plugins"
		}
		if p.CachePath == "" {
			p.CachePath = snapData + "/var/cache/nymea"
		}
		return p
	}

	if os.Geteuid() == 0 {
		if p.ConfigPath == "" {
			p.ConfigPath = "/var/lib/nymea"
		}
		if p.DefaultConfigPath == "" {
			p.DefaultConfigPath = "/etc/nymea"
		}
		if p.CachePath == "" {
			p.CachePath = "/var/cache/nymea"
		}
	}

	return p
}
