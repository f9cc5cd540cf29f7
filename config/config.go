// Package config holds the TOML configuration structures for
// cmd/receiver-gw, mirroring the teacher's Config/RadioConfig/ModuleConfig
// shape (cmd/mqttradio/main.go), plus the policy wiring spec.md's composable
// policies (§9) are selected through.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/quality"
	"github.com/tve/vrlink/receiver"
	"github.com/tve/vrlink/tracker"
)

// Config is the top-level TOML document read by cmd/receiver-gw.
type Config struct {
	Debug   bool
	Mqtt    MqttConfig
	Radio   RadioConfig
	Network NetworkConfig
	Policy  PolicyConfig
}

// MqttConfig mirrors the teacher's MqttConfig verbatim (same field set, same
// broker connection parameters).
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// RadioConfig mirrors the teacher's RadioConfig, narrowed to the one radio
// a receiver gateway drives (the teacher's `[]RadioConfig` supports several
// independent radios; this link has exactly one PHY per receiver).
type RadioConfig struct {
	SpiBus     int    `toml:"spi_bus"`
	SpiCS      int    `toml:"spi_cs"`
	IntrPin    string `toml:"intr_pin"`
	RateBps    uint32 `toml:"rate_bps"`
	TxPowerDbm int8   `toml:"tx_power_dbm"`
	SyncWord   uint32 `toml:"sync_word"`
	// UsePeriph selects periph.io's spireg/gpioreg-backed host bus instead of
	// the embd shim; both implement phy.SPI/phy.GPIO identically as far as
	// sxradio is concerned.
	UsePeriph bool `toml:"use_periph"`
}

// NetworkConfig carries the link-wide identity and timing knobs spec.md §3/
// §6 name: network key, superframe timing, and per-tracker slot count.
type NetworkConfig struct {
	NetworkKey       uint32 `toml:"network_key"`
	MaxTrackers      int    `toml:"max_trackers"`
	SuperframeUs     uint32 `toml:"superframe_us"`
	TrackerTimeoutMs uint32 `toml:"tracker_timeout_ms"`
}

// PolicyConfig selects which implementation of each §9 composable policy is
// active; every field defaults to the non-no-op variant in Default().
type PolicyConfig struct {
	UseUltraFrames    bool `toml:"use_ultra_frames"`
	QualityMonitoring bool `toml:"quality_monitoring"`
	RecoveryLadder    bool `toml:"recovery_ladder"`
	SlotShrinking     bool `toml:"slot_shrinking"`
	SlotFloorUs       uint32 `toml:"slot_floor_us"`
}

// Default returns a Config with quality monitoring, the recovery ladder and
// slot shrinking enabled; Ultra frames are off, so the standard data frame
// is the default wire format.
func Default() Config {
	return Config{
		Mqtt: MqttConfig{Host: "localhost", Port: 1883},
		Radio: RadioConfig{
			RateBps: 2_000_000, TxPowerDbm: 0, SyncWord: 0xD391C3A2,
		},
		Network: NetworkConfig{
			MaxTrackers:      netid.MaxTrackers,
			SuperframeUs:     tracker.SuperframeUs,
			TrackerTimeoutMs: receiver.TrackerTimeoutMs,
		},
		Policy: PolicyConfig{
			UseUltraFrames:    false,
			QualityMonitoring: true,
			RecoveryLadder:    true,
			SlotShrinking:     true,
			SlotFloorUs:       200,
		},
	}
}

// Load reads and parses a TOML config file, layering it over Default() so
// unset fields keep their sensible defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// FramePolicy builds the packet.FramePolicy the config selects.
func (c Config) FramePolicy() packet.FramePolicy {
	if c.Policy.UseUltraFrames {
		return packet.UltraFramePolicy{}
	}
	return packet.StandardFramePolicy{}
}

// QualityPolicy builds the quality.Policy the config selects.
func (c Config) QualityPolicy() quality.Policy {
	if c.Policy.QualityMonitoring {
		return quality.New()
	}
	return &quality.NoopPolicy{}
}

// TrackerRecoveryPolicy builds the tracker.RecoveryPolicy the config
// selects.
func (c Config) TrackerRecoveryPolicy() tracker.RecoveryPolicy {
	if c.Policy.RecoveryLadder {
		return tracker.DefaultRecoveryPolicy{}
	}
	return tracker.NoopRecoveryPolicy{}
}

// TrackerTimingPolicy builds the tracker.TimingPolicy the config selects.
func (c Config) TrackerTimingPolicy() tracker.TimingPolicy {
	if c.Policy.SlotShrinking {
		return &tracker.ShrinkingTimingPolicy{FloorUs: c.Policy.SlotFloorUs}
	}
	return tracker.DefaultTimingPolicy{}
}

// ReceiverTimingPolicy builds the receiver.TimingPolicy the config selects.
func (c Config) ReceiverTimingPolicy() receiver.TimingPolicy {
	if c.Policy.SlotShrinking {
		return &receiver.ShrinkingTimingPolicy{FloorUs: c.Policy.SlotFloorUs}
	}
	return receiver.DefaultTimingPolicy{}
}
