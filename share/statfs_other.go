//go:build !(linux || darwin || freebsd || windows)

package share

import "github.com/pkg/errors"

func volumeStats(dir string) (total, free uint64, err error) {
	err = errors.Errorf("volume statistics not supported on this platform")
	return
}
