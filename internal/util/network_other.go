//go:build !linux && !darwin

package util

import "syscall"

// Remote mount detection is not implemented here; everything counts as local.
func detectPlatformNetwork(path string, stat *syscall.Statfs_t) (*NetworkInfo, error) {
	return &NetworkInfo{}, nil
}
