package store

import "syscall"

// Quota returns best-effort disk usage for the filesystem containing path.
// Degrades to zero values if the platform does not answer; callers must not
// treat that as an error.
func Quota(path string) QuotaInfo {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return QuotaInfo{}
	}

	total := uint64(st.Bsize) * st.Blocks
	avail := uint64(st.Bsize) * st.Bavail
	if total == 0 {
		return QuotaInfo{}
	}
	used := total - avail

	return QuotaInfo{
		UsedBytes:   used,
		TotalBytes:  total,
		UsedPercent: float64(used) / float64(total) * 100,
	}
}
