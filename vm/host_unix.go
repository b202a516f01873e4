//go:build unix

package vm

import (
	"bytes"
	"os"

	"golang.org/x/sys/unix"
)

// hostUname returns sysname, nodename, release, version and machine.
func hostUname() [5]string {
	var u unix.Utsname
	if unix.Uname(&u) != nil {
		host, _ := os.Hostname()
		return [5]string{"unknown", host, "", "", ""}
	}
	trim := func(b []byte) string { return string(bytes.TrimRight(b, "\x00")) }
	return [5]string{trim(u.Sysname[:]), trim(u.Nodename[:]), trim(u.Release[:]), trim(u.Version[:]), trim(u.Machine[:])}
}

// hostAccess checks path against the R_OK|W_OK|X_OK bits in mode.
func hostAccess(path string, mode int) bool {
	return unix.Access(path, uint32(mode)) == nil
}

func hostPpid() int { return unix.Getppid() }

func hostUID() int { return unix.Getuid() }

func hostGID() int { return unix.Getgid() }
