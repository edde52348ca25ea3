package config

import "testing"

func TestConfigVersion(t *testing.T) {
	if Version == "" {
		t.Fatal("expected non-empty version string")
	}
}
