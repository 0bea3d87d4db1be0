package util

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// NetworkInfo describes the filesystem a path lives on
type NetworkInfo struct {
	IsNetwork bool
	Protocol  string // nfs, cifs, smb2, fuse.sshfs... empty when local
	MountPath string
}

// DetectNetworkFilesystem reports whether path sits on an NFS, SMB or similar
// remote mount. Detection is per platform; unsupported systems report local.
func DetectNetworkFilesystem(path string) (*NetworkInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	return detectPlatformNetwork(absPath, &stat)
}

// IsNetworkPath is DetectNetworkFilesystem without the details; errors count as local
func IsNetworkPath(path string) bool {
	info, err := DetectNetworkFilesystem(path)
	if err != nil {
		return false
	}
	return info.IsNetwork
}
