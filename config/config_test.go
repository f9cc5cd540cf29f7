package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/quality"
	"github.com/tve/vrlink/tracker"
)

func TestDefaultEnablesAllPolicies(t *testing.T) {
	c := Default()
	if !c.Policy.QualityMonitoring || !c.Policy.RecoveryLadder || !c.Policy.SlotShrinking {
		t.Errorf("Default() = %+v, want every policy enabled", c.Policy)
	}
	if c.Policy.UseUltraFrames {
		t.Errorf("UseUltraFrames = true, want false by default (standard frame is the baseline)")
	}
}

func TestFramePolicySelection(t *testing.T) {
	c := Default()
	if _, ok := c.FramePolicy().(packet.StandardFramePolicy); !ok {
		t.Errorf("FramePolicy() = %T, want StandardFramePolicy", c.FramePolicy())
	}
	c.Policy.UseUltraFrames = true
	if _, ok := c.FramePolicy().(packet.UltraFramePolicy); !ok {
		t.Errorf("FramePolicy() = %T, want UltraFramePolicy", c.FramePolicy())
	}
}

func TestQualityPolicySelection(t *testing.T) {
	c := Default()
	if _, ok := c.QualityPolicy().(*quality.Monitor); !ok {
		t.Errorf("QualityPolicy() = %T, want *quality.Monitor", c.QualityPolicy())
	}
	c.Policy.QualityMonitoring = false
	if _, ok := c.QualityPolicy().(*quality.NoopPolicy); !ok {
		t.Errorf("QualityPolicy() = %T, want *quality.NoopPolicy", c.QualityPolicy())
	}
}

func TestRecoveryPolicySelection(t *testing.T) {
	c := Default()
	if _, ok := c.TrackerRecoveryPolicy().(tracker.DefaultRecoveryPolicy); !ok {
		t.Errorf("TrackerRecoveryPolicy() = %T, want DefaultRecoveryPolicy", c.TrackerRecoveryPolicy())
	}
	c.Policy.RecoveryLadder = false
	if _, ok := c.TrackerRecoveryPolicy().(tracker.NoopRecoveryPolicy); !ok {
		t.Errorf("TrackerRecoveryPolicy() = %T, want NoopRecoveryPolicy", c.TrackerRecoveryPolicy())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.toml")
	body := `
debug = true

[mqtt]
host = "broker.local"
port = 1884

[network]
network_key = 3405691582
max_trackers = 8

[policy]
use_ultra_frames = true
quality_monitoring = false
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Debug {
		t.Errorf("Debug = false, want true")
	}
	if c.Mqtt.Host != "broker.local" || c.Mqtt.Port != 1884 {
		t.Errorf("Mqtt = %+v, want overridden host/port", c.Mqtt)
	}
	if c.Network.NetworkKey != 0xCAFEBABE {
		t.Errorf("NetworkKey = %#x, want 0xCAFEBABE", c.Network.NetworkKey)
	}
	if c.Policy.QualityMonitoring {
		t.Errorf("QualityMonitoring = true, want false (overridden)")
	}
	// Fields left unset in the TOML keep Default()'s values.
	if c.Radio.SyncWord != 0xD391C3A2 {
		t.Errorf("Radio.SyncWord = %#x, want default 0xD391C3A2 to survive a partial override", c.Radio.SyncWord)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/receiver.toml"); err == nil {
		t.Fatalf("Load: expected an error for a missing file")
	}
}
