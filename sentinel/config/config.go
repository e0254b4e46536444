// Package config loads the YAML configuration file describing a Sentinel
// orchestrator and its optional observability sidecars, grounded on the
// teacher's own Configuration struct in gateway/manager.go (there driven by
// JSON tags off an inline blob; here driven by YAML per SPEC_FULL §6).
package config

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redwich/sentinel"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Duration wraps time.Duration so it can be written as "3s"/"500ms" in YAML,
// matching the format shown in SPEC_FULL §6's example document.
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts either a duration string or a bare integer of
// nanoseconds, the latter kept for config values that arrive pre-decoded
// from an inline JSON blob (the secondary jsoniter decode path).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.ShortTag() == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("config: duration must be a string or integer nanoseconds")
		}
		d.Duration = time.Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string or integer nanoseconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ConnectionInfo mirrors sentinel.ConnectionInfo with YAML tags.
type ConnectionInfo struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

func (ci ConnectionInfo) toSentinel() sentinel.ConnectionInfo {
	return sentinel.ConnectionInfo{Host: ci.Host, Port: ci.Port, Password: ci.Password, Name: ci.Name}
}

// SnapshotConfig configures the optional sentinel/snapshot exporter.
type SnapshotConfig struct {
	RedisAddr string   `yaml:"redis_addr"`
	Interval  Duration `yaml:"interval"`
}

// DebugWSConfig configures the optional sentinel/debugws hub.
type DebugWSConfig struct {
	Listen string `yaml:"listen"`
}

// NatsConfig configures the optional NATS streaming publisher.
type NatsConfig struct {
	Address   string `yaml:"address"`
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	Subject   string `yaml:"subject"`
}

// File is the on-disk YAML document shape (SPEC_FULL §6).
type File struct {
	Shards         []string         `yaml:"shards"`
	Conns          []ConnectionInfo `yaml:"conns"`
	ShardGroupName string           `yaml:"shard_group_name"`
	ClientName     string           `yaml:"client_name"`
	Password       string           `yaml:"password"`

	TrackMasters bool `yaml:"track_masters"`
	TrackSlaves  bool `yaml:"track_slaves"`
	IsSubscriber bool `yaml:"is_subscriber"`
	ClusterMode  bool `yaml:"cluster_mode"`

	CheckInterval       Duration `yaml:"check_interval"`
	ClusterSlotsTimeout Duration `yaml:"cluster_slots_timeout"`

	Snapshot *SnapshotConfig `yaml:"snapshot"`
	DebugWS  *DebugWSConfig  `yaml:"debug_ws"`
	Nats     *NatsConfig     `yaml:"nats"`
}

// Loaded bundles the orchestrator Config with the optional sidecar configs,
// since Load is the only place both are visible at once.
type Loaded struct {
	Sentinel sentinel.Config
	Snapshot *SnapshotConfig
	DebugWS  *DebugWSConfig
	Nats     *NatsConfig
}

// Load reads and parses the YAML file at path into a Loaded configuration.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Loaded{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	conns := make([]sentinel.ConnectionInfo, len(f.Conns))
	for i, ci := range f.Conns {
		conns[i] = ci.toSentinel()
	}

	cfg := sentinel.Config{
		Shards:              f.Shards,
		Conns:               conns,
		ShardGroupName:      f.ShardGroupName,
		ClientName:          f.ClientName,
		Password:            f.Password,
		TrackMasters:        f.TrackMasters,
		TrackSlaves:         f.TrackSlaves,
		IsSubscriber:        f.IsSubscriber,
		ClusterMode:         f.ClusterMode,
		CheckInterval:       f.CheckInterval.Duration,
		ClusterSlotsTimeout: f.ClusterSlotsTimeout.Duration,
	}
	if f.Nats != nil {
		cfg.NatsSubject = f.Nats.Subject
	}

	return Loaded{Sentinel: cfg, Snapshot: f.Snapshot, DebugWS: f.DebugWS, Nats: f.Nats}, nil
}

// DecodeInlineJSON decodes a JSON blob (e.g. an env-var override) into dst,
// mirroring the teacher's jsoniter-based secondary decode path.
func DecodeInlineJSON(data []byte, dst interface{}) error {
	return json.Unmarshal(data, dst)
}
