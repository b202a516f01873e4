//go:build !unix

package vm

import (
	"os"
	"runtime"
)

func hostUname() [5]string {
	host, _ := os.Hostname()
	return [5]string{runtime.GOOS, host, "", "", runtime.GOARCH}
}

func hostAccess(path string, mode int) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if mode&2 != 0 && info.Mode().Perm()&0o200 == 0 {
		return false
	}
	return true
}

func hostPpid() int { return os.Getppid() }

func hostUID() int { return os.Getuid() }

func hostGID() int { return os.Getgid() }
