package share

import (
	"fmt"
	"math"
	"path"
	"time"
)

// ListEntry is one row of a Listing.  Directories have a trailing
// slash in Path and a zero Size.
type ListEntry struct {
	Path          string    `json:"path" msgpack:"path"`
	Name          string    `json:"name" msgpack:"name"`
	IsDir         bool      `json:"is_dir" msgpack:"is_dir"`
	Size          int64     `json:"size" msgpack:"size"`
	SizeFormatted string    `json:"size_formatted" msgpack:"size_formatted"`
	Modified      time.Time `json:"modified" msgpack:"modified"`
}

type Listing struct {
	Entries            []ListEntry `json:"files" msgpack:"files"`
	TotalSize          int64       `json:"total_size" msgpack:"total_size"`
	TotalSizeFormatted string      `json:"total_size_formatted" msgpack:"total_size_formatted"`
}

// List walks the share and reports every file and directory in walk
// order, with the sum of file sizes.
func (svc *Service) List() (listing *Listing, err error) {
	listing = &Listing{Entries: []ListEntry{}}
	for entry, werr := range svc.Tree.Walk() {
		if werr != nil {
			return nil, werr
		}
		le := ListEntry{
			Path:     entry.Path,
			Name:     path.Base(entry.Path),
			IsDir:    entry.IsDir(),
			Modified: entry.ModTime,
		}
		if le.IsDir {
			le.Path += "/"
		} else {
			le.Size = entry.Size
			listing.TotalSize += entry.Size
		}
		le.SizeFormatted = FormatSize(le.Size)
		listing.Entries = append(listing.Entries, le)
	}
	listing.TotalSizeFormatted = FormatSize(listing.TotalSize)
	return
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders n bytes in the largest 1024-based unit that keeps
// the value under 1024, with two decimals: "5.00 B", "1.50 KB".
// Anything from 1024 GB up is shown in TB.
func FormatSize(n int64) string {
	v := float64(n)
	for _, unit := range sizeUnits {
		// compare what will be printed, so 1023.999 KB moves up to MB
		if math.Round(v*100) < 1024*100 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f TB", v)
}

// StorageInfo pairs the share's own usage with the state of the
// volume it lives on.  The two sets of figures are independent.
type StorageInfo struct {
	TotalDiskBytes     uint64 `json:"total_disk_bytes" msgpack:"total_disk_bytes"`
	UsedDiskBytes      uint64 `json:"used_disk_bytes" msgpack:"used_disk_bytes"`
	FreeDiskBytes      uint64 `json:"free_disk_bytes" msgpack:"free_disk_bytes"`
	UploadedBytes      int64  `json:"uploaded_bytes" msgpack:"uploaded_bytes"`
	FileCount          int    `json:"file_count" msgpack:"file_count"`
	TotalDiskFormatted string `json:"total_disk_formatted" msgpack:"total_disk_formatted"`
	UsedDiskFormatted  string `json:"used_disk_formatted" msgpack:"used_disk_formatted"`
	FreeDiskFormatted  string `json:"free_disk_formatted" msgpack:"free_disk_formatted"`
	UploadedFormatted  string `json:"uploaded_formatted" msgpack:"uploaded_formatted"`
}

func (svc *Service) StorageInfo() (info *StorageInfo, err error) {
	info = &StorageInfo{}
	info.TotalDiskBytes, info.FreeDiskBytes, err = volumeStats(svc.Tree.Root)
	if err != nil {
		return nil, fault(err, "statfs %s", svc.Tree.Root)
	}
	if info.TotalDiskBytes > info.FreeDiskBytes {
		info.UsedDiskBytes = info.TotalDiskBytes - info.FreeDiskBytes
	}
	for entry, werr := range svc.Tree.Walk() {
		if werr != nil {
			return nil, werr
		}
		if entry.IsDir() {
			continue
		}
		info.UploadedBytes += entry.Size
		info.FileCount++
	}
	info.TotalDiskFormatted = FormatSize(int64(info.TotalDiskBytes))
	info.UsedDiskFormatted = FormatSize(int64(info.UsedDiskBytes))
	info.FreeDiskFormatted = FormatSize(int64(info.FreeDiskBytes))
	info.UploadedFormatted = FormatSize(info.UploadedBytes)
	return
}
