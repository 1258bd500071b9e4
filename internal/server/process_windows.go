//go:build windows

package server

import (
	"errors"
	"os"
	"syscall"
)

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// terminate kills the process; Windows has no SIGTERM
func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errProcessGone
	}
	if err := proc.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessGone
		}
		return err
	}
	return nil
}
