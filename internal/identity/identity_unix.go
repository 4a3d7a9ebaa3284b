//go:build unix

package identity

import (
	"os"

	"golang.org/x/sys/unix"
)

func fileID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return uint64(st.Ino), nil
}
