// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level global static configuration.
// Maps to the `hipd:` root key in YAML.
type GlobalConfig struct {
	Node       NodeConfig       `mapstructure:"node"`
	Control    ControlConfig    `mapstructure:"control"`
	HostIdentities []HostIdentityConfig `mapstructure:"host_identities"`
	DH         DHConfig         `mapstructure:"dh"`
	Puzzle     PuzzleConfig     `mapstructure:"puzzle"`
	ESPProt    ESPProtConfig    `mapstructure:"esp_prot"`
	Firewall   FirewallConfig   `mapstructure:"firewall"`
	AdminStream AdminStreamConfig `mapstructure:"admin_stream"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string            `mapstructure:"ip"` // empty = auto-detect
	Hostname string            `mapstructure:"hostname"`
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Host identities ───

// HostIdentityConfig names one on-disk host identity keypair loaded into
// the HID store at startup.
type HostIdentityConfig struct {
	Name       string `mapstructure:"name"`
	PrivateKey string `mapstructure:"private_key_path"`
	Anonymous  bool   `mapstructure:"anonymous"`
	Hostname   string `mapstructure:"hostname"`
}

// ─── DH / group preference ───

// DHConfig controls the Diffie-Hellman group preference list, highest
// preference first. R1 offers it as one DIFFIE_HELLMAN parameter per
// group; no separate group-list parameter is sent.
type DHConfig struct {
	GroupPreference []string `mapstructure:"group_preference"`
}

// ─── Puzzle engine ───

// PuzzleConfig controls the responder-side puzzle difficulty and cache
// lifetime.
type PuzzleConfig struct {
	Difficulty int    `mapstructure:"difficulty"`
	Lifetime   string `mapstructure:"lifetime"`
}

// ─── ESP-protection ───

// ESPProtConfig selects the default ESP-protection transform and its
// tunable parameters, applied when a HA doesn't negotiate otherwise.
type ESPProtConfig struct {
	Transform  string `mapstructure:"transform"` // UNUSED|PLAIN|PARALLEL|CUMULATIVE|PARA_CUMUL|TREE
	HChains    int    `mapstructure:"hchains"`
	RingBuf    int    `mapstructure:"ring_buf"`
	NumLinear  int    `mapstructure:"num_linear"`
	NumRandom  int    `mapstructure:"num_random"`
	WindowSize int    `mapstructure:"window_size"`
}

// ─── Firewall ───

// FirewallConfig points hipfw at an externally-maintained ACL file; the
// ACL's own format and enforcement engine are out of scope here.
type FirewallConfig struct {
	ACLPath string `mapstructure:"acl_path"`
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Admin event stream ───

// AdminStreamConfig configures the websocket push-notification endpoint
// long-lived CLI watchers connect to for anchor-update/FW_BEX_DONE
// events, alongside the request/reply UDS JSON-RPC socket.
type AdminStreamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"`
}

// ─── Log ───

// LogConfig contains logging settings for both the slog-based daemon
// skeleton and the logrus-based internal/hiplog domain logger.
type LogConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Pattern string           `mapstructure:"pattern"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output for the hiplog appender.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `hipd: ...`.
type configRoot struct {
	HIPD GlobalConfig `mapstructure:"hipd"`
}

// Load loads configuration from file.
// The YAML file uses `hipd:` as root key; env vars use HIPD_ prefix
// (e.g. HIPD_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.HIPD

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("hipd.control.socket", "/var/run/hipd.sock")
	v.SetDefault("hipd.control.pid_file", "/var/run/hipd.pid")

	v.SetDefault("hipd.dh.group_preference", []string{"nist-p384", "nist-p256", "modp-3072", "modp-1536"})

	v.SetDefault("hipd.puzzle.difficulty", 10)
	v.SetDefault("hipd.puzzle.lifetime", "10m")

	v.SetDefault("hipd.esp_prot.transform", "PLAIN")
	v.SetDefault("hipd.esp_prot.hchains", 1)
	v.SetDefault("hipd.esp_prot.ring_buf", 64)
	v.SetDefault("hipd.esp_prot.num_linear", 1)
	v.SetDefault("hipd.esp_prot.num_random", 2)
	v.SetDefault("hipd.esp_prot.window_size", 64)

	v.SetDefault("hipd.firewall.socket", "/var/run/hipfw.sock")
	v.SetDefault("hipd.firewall.pid_file", "/var/run/hipfw.pid")

	v.SetDefault("hipd.admin_stream.enabled", false)
	v.SetDefault("hipd.admin_stream.listen", ":9830")
	v.SetDefault("hipd.admin_stream.path", "/events")

	v.SetDefault("hipd.log.level", "info")
	v.SetDefault("hipd.log.format", "json")
	v.SetDefault("hipd.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("hipd.log.outputs.file.enabled", false)
	v.SetDefault("hipd.log.outputs.file.path", "/var/log/hipd/hipd.log")
	v.SetDefault("hipd.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("hipd.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("hipd.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("hipd.log.outputs.file.rotation.compress", true)

	v.SetDefault("hipd.metrics.enabled", true)
	v.SetDefault("hipd.metrics.listen", ":9830")
	v.SetDefault("hipd.metrics.path", "/metrics")
	v.SetDefault("hipd.metrics.collect_interval", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults (hostname/IP auto-detection).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "trace": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	if len(cfg.DH.GroupPreference) == 0 {
		return fmt.Errorf("dh.group_preference must name at least one group")
	}

	switch strings.ToUpper(cfg.ESPProt.Transform) {
	case "UNUSED", "PLAIN", "PARALLEL", "CUMULATIVE", "PARA_CUMUL", "TREE":
	default:
		return fmt.Errorf("invalid esp_prot.transform: %s", cfg.ESPProt.Transform)
	}

	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: explicit config value → auto-detect → error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set HIPD_NODE_IP or hipd.node.ip")
}
