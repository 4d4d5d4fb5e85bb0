package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

// TestStripNulls tests removal of explicit null attributes
func TestStripNulls(t *testing.T) {
	in := json.RawMessage(`{"id":"t1","title":"Test","dueDate":null,"priority":null,"order":1.5}`)
	out, err := StripNulls(in)
	if err != nil {
		t.Fatalf("StripNulls() failed: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if _, ok := doc["dueDate"]; ok {
		t.Error("dueDate should have been stripped")
	}
	if _, ok := doc["priority"]; ok {
		t.Error("priority should have been stripped")
	}
	if string(doc["id"]) != `"t1"` {
		t.Errorf("id = %s, want \"t1\"", doc["id"])
	}
	if string(doc["order"]) != "1.5" {
		t.Errorf("order = %s, want 1.5", doc["order"])
	}
}

// TestStripNulls_NotAnObject tests rejection of non-object documents
func TestStripNulls_NotAnObject(t *testing.T) {
	if _, err := StripNulls(json.RawMessage(`[1,2,3]`)); err == nil {
		t.Error("StripNulls() accepted a JSON array")
	}
}

// TestIsOffline tests the offline/rejection error split
func TestIsOffline(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad request"), false},
		{"wrapped offline", Offline(errors.New("dial tcp: refused")), true},
		{"deeply wrapped offline", fmt.Errorf("drain: %w", Offline(errors.New("x"))), true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"enetunreach", fmt.Errorf("write: %w", syscall.ENETUNREACH), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOffline(tt.err); got != tt.want {
				t.Errorf("IsOffline(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestOffline_PreservesCause tests unwrapping of the original error
func TestOffline_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Offline(cause)

	if !errors.Is(err, ErrOffline) {
		t.Error("Offline() result does not match ErrOffline")
	}
	if !errors.Is(err, cause) {
		t.Error("Offline() lost the original cause")
	}
	if Offline(nil) != nil {
		t.Error("Offline(nil) should be nil")
	}
}
