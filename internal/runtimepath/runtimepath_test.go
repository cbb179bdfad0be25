package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestDir_Precedence(t *testing.T) {
	own, xdg := t.TempDir(), t.TempDir()

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"override wins", map[string]string{EnvDir: own, "XDG_RUNTIME_DIR": xdg}, own},
		{"xdg", map[string]string{EnvDir: "", "XDG_RUNTIME_DIR": xdg}, xdg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := Dir()
			if err != nil {
				t.Fatalf("Dir() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Dir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDir_FallsBackWithoutEnvironment(t *testing.T) {
	t.Setenv(EnvDir, "")
	t.Setenv("XDG_RUNTIME_DIR", "")

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}

	wantRun := fmt.Sprintf("/run/user/%d", os.Getuid())
	wantTmp := filepath.Join(os.TempDir(), fmt.Sprintf("vdwatch-%d", os.Getuid()))
	if got != wantRun && got != wantTmp {
		t.Fatalf("Dir() = %q, want %q or %q", got, wantRun, wantTmp)
	}
}

func TestSocketAndLockShareDir(t *testing.T) {
	td := t.TempDir()
	t.Setenv(EnvDir, td)

	socket, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath() error: %v", err)
	}
	lock, err := LockPath()
	if err != nil {
		t.Fatalf("LockPath() error: %v", err)
	}
	if socket != filepath.Join(td, "vdwatch.sock") {
		t.Fatalf("SocketPath() = %q", socket)
	}
	if lock != filepath.Join(td, "vdwatch.lock") {
		t.Fatalf("LockPath() = %q", lock)
	}
}
