// Package runtimepath locates the per-user directory holding the daemon's
// control socket and instance lock.
package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvDir overrides the runtime directory for every vdwatch process.
const EnvDir = "VDWATCH_RUNTIME_DIR"

const (
	socketName = "vdwatch.sock"
	lockName   = "vdwatch.lock"
)

// Dir resolves the runtime directory: $VDWATCH_RUNTIME_DIR, then
// $XDG_RUNTIME_DIR, then /run/user/<uid>, and finally a private directory
// under /tmp that is created on demand.
func Dir() (string, error) {
	for _, env := range []string{EnvDir, "XDG_RUNTIME_DIR"} {
		if dir := os.Getenv(env); dir != "" {
			return dir, nil
		}
	}

	uid := os.Getuid()
	if dir := fmt.Sprintf("/run/user/%d", uid); isDir(dir) {
		return dir, nil
	}

	dir := filepath.Join(os.TempDir(), fmt.Sprintf("vdwatch-%d", uid))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create runtime dir: %w", err)
	}
	return dir, nil
}

// SocketPath is where the daemon serves IPC.
func SocketPath() (string, error) { return file(socketName) }

// LockPath is the single-instance lock taken by the daemon.
func LockPath() (string, error) { return file(lockName) }

func file(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
