package registry_test

import (
	"testing"
)

func TestMethods_RegisterThenHeartbeat(t *testing.T) {
	r := newTestRegistry()
	methods := r.Methods()

	register, ok := methods["register"]
	if !ok {
		t.Fatal("missing register method")
	}
	result, err := register(map[string]any{
		"handler_id": "h1",
		"address":    "127.0.0.1:9001",
		"methods":    []any{"echo", "sleep"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resultMap, ok := result.(map[string]any)
	if !ok || resultMap["accepted"] != true {
		t.Fatalf("unexpected register result: %v", result)
	}

	heartbeat, ok := methods["heartbeat"]
	if !ok {
		t.Fatal("missing heartbeat method")
	}
	if _, err := heartbeat(map[string]any{"handler_id": "h1"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestMethods_HeartbeatUnknownHandler_ReturnsError(t *testing.T) {
	r := newTestRegistry()
	methods := r.Methods()

	if _, err := methods["heartbeat"](map[string]any{"handler_id": "ghost"}); err == nil {
		t.Fatal("expected error for unknown handler")
	}
}

func TestMethods_RegisterMissingFields_ReturnsError(t *testing.T) {
	r := newTestRegistry()
	methods := r.Methods()

	if _, err := methods["register"](map[string]any{"handler_id": "h1"}); err == nil {
		t.Fatal("expected error for missing address")
	}
}
