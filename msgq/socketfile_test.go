package msgq

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListenCreatesSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgq.sock")

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket file not created: %v", err)
	}
}

func TestListenRemovesStaleSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgq.sock")

	ln1, err := Listen(path)
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	ln1.SetUnlinkOnClose(false)
	ln1.Close() // listener gone, but the socket file is left behind

	ln2, err := Listen(path)
	if err != nil {
		t.Fatalf("second Listen should clean up the stale socket file: %v", err)
	}
	defer ln2.Close()
}

func TestListenRefusesWhenAlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgq.sock")

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	if _, err := Listen(path); err != ErrAlreadyRunning {
		t.Fatalf("second Listen err = %v, want ErrAlreadyRunning", err)
	}
}

func TestRemoveSocketFileIgnoresMissing(t *testing.T) {
	if err := RemoveSocketFile(filepath.Join(t.TempDir(), "nonexistent.sock")); err != nil {
		t.Errorf("RemoveSocketFile on missing file: %v", err)
	}
}
