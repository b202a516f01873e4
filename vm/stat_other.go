//go:build !linux

package vm

import "os"

// fileTimes falls back to the modification time where the platform's stat
// layout is not wired.
func fileTimes(path string) (atime, ctime float64, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, false
	}
	t := float64(info.ModTime().UnixNano()) / 1e9
	return t, t, true
}
