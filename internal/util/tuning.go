package util

import (
	"fmt"
	"time"
)

// maxNetworkWorkers caps decoders reading from a network mount. Each worker
// streams up to a full track through ffmpeg, so a NAS link saturates well
// before the CPU does.
const maxNetworkWorkers = 4

// LibraryTuning is the worker setup chosen for a music library location
type LibraryTuning struct {
	Concurrency int
	Network     bool
	Forced      bool
	Info        *NetworkInfo
	Retry       *RetryConfig
}

// TuneForLibrary inspects the filesystem holding musicDir and adjusts
// concurrency and retry behavior for network mounts. A non-nil forced value
// skips detection.
func TuneForLibrary(musicDir string, forced *bool, concurrency int) *LibraryTuning {
	t := &LibraryTuning{
		Concurrency: concurrency,
		Retry:       DefaultRetryConfig(),
	}

	if forced != nil {
		t.Forced = true
		t.Network = *forced
	} else if musicDir != "" {
		info, err := DetectNetworkFilesystem(musicDir)
		if err != nil {
			DebugLog("Filesystem detection failed for %s: %v", musicDir, err)
		} else {
			t.Info = info
			t.Network = info.IsNetwork
		}
	}

	if t.Network {
		applyNetworkLimits(t)
	}
	return t
}

func applyNetworkLimits(t *LibraryTuning) {
	if t.Concurrency > maxNetworkWorkers {
		t.Concurrency = maxNetworkWorkers
	} else if t.Concurrency < 1 {
		t.Concurrency = 1
	}
	t.Retry = &RetryConfig{
		MaxAttempts: 5,
		InitialWait: 250 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// String renders the tuning for logs and diagnostics
func (t *LibraryTuning) String() string {
	if !t.Network {
		if t.Forced {
			return fmt.Sprintf("local (forced), %d workers", t.Concurrency)
		}
		return fmt.Sprintf("local, %d workers", t.Concurrency)
	}

	where := "network mount (forced)"
	if !t.Forced && t.Info != nil {
		where = fmt.Sprintf("%s mount at %s", t.Info.Protocol, t.Info.MountPath)
	}
	return fmt.Sprintf("%s, %d workers, %d attempts per write", where, t.Concurrency, t.Retry.MaxAttempts)
}
