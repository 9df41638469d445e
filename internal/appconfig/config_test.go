package appconfig

import (
	"reflect"
	"testing"
)

func TestDefaultConfigSkipPermissions(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Agent.SkipPermissions {
		t.Fatalf("expected skip_permissions to default false")
	}
}

func TestEnvSliceSortsDeterministically(t *testing.T) {
	got := EnvSlice(map[string]string{"ZED": "1", "ALPHA": "2", "MID": "3"})
	want := []string{"ALPHA=2", "MID=3", "ZED=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EnvSlice = %v, want %v", got, want)
	}
	if EnvSlice(nil) != nil {
		t.Fatalf("expected nil for empty map")
	}
}
