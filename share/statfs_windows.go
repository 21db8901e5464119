//go:build windows

package share

import "golang.org/x/sys/windows"

func volumeStats(dir string) (total, free uint64, err error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return
	}
	var totalFree uint64
	err = windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree)
	return
}
