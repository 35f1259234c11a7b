package build

import (
	"os"
	"testing"
)

func TestRedirectStdRestoresOnExit(t *testing.T) {
	dir := t.TempDir()
	origOut, origErr := os.Stdout, os.Stderr

	restore, err := redirectStd(dir, "test")
	if err != nil {
		t.Fatalf("redirectStd: %v", err)
	}
	if os.Stdout == origOut {
		t.Error("stdout was not redirected")
	}
	restore()
	if os.Stdout != origOut || os.Stderr != origErr {
		t.Error("redirectStd did not restore the original stdout/stderr")
	}
}
