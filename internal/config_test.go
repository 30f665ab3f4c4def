package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/cortex/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultConfig_EngineConfig(t *testing.T) {
	ec := NewDefaultConfig().EngineConfig()
	if ec.PropagateEvery != 2*time.Second || ec.DecayEvery != 10*time.Second || ec.RestEvery != 30*time.Second {
		t.Errorf("engine config = %+v", ec)
	}
	if ec.QueueSize != 64 || ec.IOTimeout != 5*time.Second {
		t.Errorf("engine limits = %+v", ec)
	}
}

func TestLoadYAML_OverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("CORTEX_TEST_VAULT", "/tmp/vault-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vault:
  path: ${CORTEX_TEST_VAULT}
schedule:
  propagate: 500ms
graph:
  decay_rate: 0.9
  direct_boost: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vault.Path != "/tmp/vault-from-env" {
		t.Errorf("vault = %q", cfg.Vault.Path)
	}
	if cfg.Schedule.Propagate != 500*time.Millisecond || cfg.Schedule.Decay != 10*time.Second {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Graph.DecayRate != 0.9 || cfg.Graph.DirectBoost != 30 || cfg.Graph.TagBoost != 2.5 {
		t.Errorf("graph = %+v", cfg.Graph)
	}
}

func TestFullConfig_GraphValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Graph.DecayRate = 1.5
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "graph") {
		t.Errorf("err = %v, want graph validation error", err)
	}
}

func TestFullConfig_ScheduleValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Schedule.Tick = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero tick should fail validation")
	}
	cfg = NewDefaultConfig()
	cfg.Schedule.Garden = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero garden interval disables the task: %v", err)
	}
}
