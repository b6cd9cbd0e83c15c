//go:build linux

package engine

import (
	"os"
	"syscall"
)

func redirectStderr(file *os.File) error {
	return syscall.Dup3(int(file.Fd()), int(os.Stderr.Fd()), 0)
}
