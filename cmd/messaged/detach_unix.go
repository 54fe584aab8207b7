//go:build unix

package main

import "syscall"

// detachSysProcAttr starts the background daemon in its own session so it
// survives the launching shell exiting.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
