package util

import (
	"crypto/md5"
	"encoding/hex"
)

// TrackIDLength is the number of hex characters in a track ID
const TrackIDLength = 16

// TrackID derives the content-addressed identifier of a track from its path.
// Only the path string is hashed: no stat, no content, no inode. A moved file
// therefore gets a new ID and its old catalog row is left behind.
func TrackID(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:TrackIDLength], nil
}

// IsTrackID reports whether s looks like a value produced by TrackID
func IsTrackID(s string) bool {
	if len(s) != TrackIDLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
