//go:build !linux

package config

// getAvailableMemoryMB returns a conservative memory estimate on platforms
// without /proc/meminfo.
func getAvailableMemoryMB() int64 {
	return 4096
}
