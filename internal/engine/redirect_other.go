//go:build !linux

package engine

import "os"

// Stderr redirection is only wired up on Linux hosts; elsewhere the engine
// log stays on the inherited stderr.
func redirectStderr(_ *os.File) error {
	return nil
}
