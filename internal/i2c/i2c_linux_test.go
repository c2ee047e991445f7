//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func openNull(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return &Bus{f: f, path: "/dev/null"}
}

func TestDevWriteInvalidAddr(t *testing.T) {
	b := openNull(t)

	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0xFF})
		if err == nil || !strings.Contains(err.Error(), "invalid i2c addr") {
			t.Fatalf("addr 0x%X: err=%v want invalid i2c addr", addr, err)
		}
	}
}

func TestDevWriteEmptyIsNoop(t *testing.T) {
	b := openNull(t)

	if err := b.Dev(0x20).Write(nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestDevWriteClosedBus(t *testing.T) {
	b := openNull(t)
	d := b.Dev(0x20)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := d.Write([]byte{0x00}); err == nil {
		t.Fatal("expected error writing to a closed bus")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestOpenMissingBus(t *testing.T) {
	if _, err := Open("/dev/does-not-exist-i2c-99"); err == nil {
		t.Fatal("expected error opening a missing bus")
	}
}
