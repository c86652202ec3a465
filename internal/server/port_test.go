package server

import (
	"net"
	"testing"
	"time"
)

func TestFindAvailablePort_SkipsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	port, err := FindAvailablePort("127.0.0.1", busy, 3, 0)
	if err != nil {
		t.Fatalf("FindAvailablePort() error = %v", err)
	}
	if port == busy {
		t.Errorf("FindAvailablePort() = %d, want a port other than the busy one", port)
	}
}

func TestFindAvailablePort_GivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	start := time.Now()
	if _, err := FindAvailablePort("127.0.0.1", busy, 1, 10*time.Millisecond); err == nil {
		t.Fatal("FindAvailablePort() should fail when the only candidate is busy")
	}
	if time.Since(start) > time.Second {
		t.Error("FindAvailablePort() should not wait after the last attempt")
	}
}
