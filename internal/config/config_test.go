package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enginectl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
[launch]
engine_path = "/opt/engine/simengine"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Launch.EnginePath != "/opt/engine/simengine" {
		t.Fatalf("engine path = %q", cfg.Launch.EnginePath)
	}
	if cfg.Launch.Timeout() != 120*time.Second {
		t.Fatalf("launch timeout = %v", cfg.Launch.Timeout())
	}
	if cfg.Scheduler.Cores != 4 {
		t.Fatalf("scheduler cores = %d", cfg.Scheduler.Cores)
	}
	if cfg.Session.CloseTimeout() != 60*time.Second {
		t.Fatalf("close timeout = %v", cfg.Session.CloseTimeout())
	}
}

func TestLoadFullConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
[transport]
secure = true
local_only = true
cert_dir = "/etc/enginectl/certs"
port = 50123

[launch]
engine_path = "/opt/engine/simengine"
non_graphical = true
wait_for_license = true
timeout_seconds = 30
poll_seconds = 2
[launch.env]
ENGINE_SCRATCH = "/scratch"

[scheduler]
enabled = true
cores = 16
resource = "rusage[mem=32000]"
queue = "priority"
allocation_timeout_seconds = 300
[scheduler.ssh]
host = "login01"
user = "batch"
key_path = "/home/batch/.ssh/id_ed25519"

[session]
version = "2024.2"
multi_session = true

[status]
addr = "127.0.0.1:8970"
cors_origins = ["https://ops.example.com"]
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Transport.Secure || !cfg.Transport.LocalOnly || cfg.Transport.Port != 50123 {
		t.Fatalf("transport = %+v", cfg.Transport)
	}
	if cfg.Launch.Env["ENGINE_SCRATCH"] != "/scratch" {
		t.Fatalf("launch env = %v", cfg.Launch.Env)
	}
	if cfg.Launch.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %v", cfg.Launch.PollInterval())
	}
	if cfg.Scheduler.AllocationTimeout() != 300*time.Second {
		t.Fatalf("allocation timeout = %v", cfg.Scheduler.AllocationTimeout())
	}
	if cfg.Scheduler.SSH.Host != "login01" || cfg.Scheduler.SSH.User != "batch" {
		t.Fatalf("ssh = %+v", cfg.Scheduler.SSH)
	}
	if cfg.Session.Version != "2024.2" || !cfg.Session.MultiSession {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Status.Addr != "127.0.0.1:8970" {
		t.Fatalf("status = %+v", cfg.Status)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	testlog.Start(t)
	conflict := Default()
	conflict.Transport.LocalOnly = true
	conflict.Transport.ListenAllInterfaces = true
	if err := Validate(conflict); err == nil {
		t.Fatalf("conflicting listen flags must fail validation")
	}

	negative := Default()
	negative.Launch.TimeoutSeconds = -1
	if err := Validate(negative); err == nil {
		t.Fatalf("negative launch timeout must fail validation")
	}

	scheduler := Default()
	scheduler.Scheduler.Enabled = true
	scheduler.Scheduler.Resource = ""
	if err := Validate(scheduler); err == nil {
		t.Fatalf("enabled scheduler without resource or template must fail validation")
	}
	scheduler.Scheduler.Custom = []string{"qsub", "-pe", "smp", "4"}
	if err := Validate(scheduler); err != nil {
		t.Fatalf("custom template should satisfy the scheduler check: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("missing file must fail")
	}
}
