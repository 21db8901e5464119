//go:build linux || darwin || freebsd

package share

import "golang.org/x/sys/unix"

// volumeStats returns the size of the volume holding dir and the bytes
// available to an unprivileged user on it.
func volumeStats(dir string) (total, free uint64, err error) {
	var st unix.Statfs_t
	err = unix.Statfs(dir, &st)
	if err != nil {
		return
	}
	total = uint64(st.Blocks) * uint64(st.Bsize)
	free = uint64(st.Bavail) * uint64(st.Bsize)
	return
}
