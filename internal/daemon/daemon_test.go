package daemon

import (
	"path/filepath"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Persistence = PersistenceConfig{
		RegistryPath:  filepath.Join(dir, "registry.json"),
		ProfilesPath:  filepath.Join(dir, "profiles.json"),
		KnowledgePath: filepath.Join(dir, "knowledge.json"),
		SnapshotPath:  "", // disable combat-snapshot persistence in tests
	}
	cfg.Push.Enabled = true
	cfg.GameServer = GameServerConfig{Host: "127.0.0.1", Port: 0, Password: "test-password"}
	cfg.Security.APIKey = "test-api-key"
	return cfg
}

func TestNewWithConfig_WiresEveryComponent(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	if d.Registry == nil || d.Learning == nil || d.Adapter == nil || d.Supervisor == nil || d.Server == nil || d.Health == nil {
		t.Fatal("expected every core component to be wired")
	}
	if d.Push == nil || d.Bus == nil {
		t.Fatal("expected push channel to be wired when enabled")
	}
}

func TestNewWithConfig_PushDisabledLeavesNilFanout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Push.Enabled = false

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	if d.Push != nil || d.Bus != nil {
		t.Fatal("expected no push channel when disabled")
	}
}

func TestDaemon_CloseIsIdempotentWithoutServe(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	d.Close()
	d.Close()
}
