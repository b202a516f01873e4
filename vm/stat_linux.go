//go:build linux

package vm

import (
	"golang.org/x/sys/unix"
)

// fileTimes returns access and status-change times in seconds.
func fileTimes(path string) (atime, ctime float64, ok bool) {
	var st unix.Stat_t
	if unix.Stat(path, &st) != nil {
		return 0, 0, false
	}
	return timespecSeconds(st.Atim), timespecSeconds(st.Ctim), true
}

func timespecSeconds(ts unix.Timespec) float64 {
	sec, nsec := ts.Unix()
	return float64(sec) + float64(nsec)/1e9
}
