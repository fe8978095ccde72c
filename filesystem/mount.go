package filesystem

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/value"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

// MountModes parses the configuration names of the modes.
var MountModes = value.NewEnum[MountMode]("MountMode", "ro", "rw", "rwc")

func (m MountMode) String() string {
	return MountModes.Name(m)
}

// Mount represents a virtual path mapped to a host path with specific permissions.
type Mount struct {
	VirtualPath string    // Path as seen by the caller (e.g., "/data")
	HostPath    string    // Actual path on host filesystem
	Mode        MountMode // Permission level
}

type access int

const (
	accessRead access = iota
	accessWrite
	accessCreate
)

func normalizeMounts(mounts []Mount) []Mount {
	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		vp := "/" + strings.Trim(m.VirtualPath, "/")
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			Logger().Warn("skipping mount with invalid host path")
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: vp,
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	return normalized
}

// resolve maps a caller path to a host path and checks that the mount
// allows the requested access. Without mounts, paths are host paths.
func (fs *FileSystem) resolve(path string, need access) (string, error) {
	if path == "" {
		return "", errors.InvalidData(errors.PhaseOperation, "empty path")
	}
	if fs.limits.MaxPathLength > 0 && len(path) > fs.limits.MaxPathLength {
		return "", errors.LimitExceeded(errors.PhaseOperation, "path length", int64(fs.limits.MaxPathLength))
	}
	if len(fs.mounts) == 0 {
		return filepath.Clean(path), nil
	}

	vp := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	m := fs.findMount(vp)
	if m == nil {
		return "", errors.PermissionDenied(errors.PhaseOperation, "path not in any mount")
	}
	if need != accessRead && m.Mode == MountReadOnly {
		return "", errors.PermissionDenied(errors.PhaseOperation, "read-only mount")
	}

	rel := strings.TrimPrefix(vp, m.VirtualPath)
	host, err := filepath.Abs(filepath.Join(m.HostPath, rel))
	if err != nil {
		return "", errors.InvalidData(errors.PhaseOperation, "invalid path")
	}
	if host != m.HostPath && !strings.HasPrefix(host, m.HostPath+string(filepath.Separator)) {
		return "", errors.PermissionDenied(errors.PhaseOperation, "path escape attempt")
	}

	if need == accessCreate && m.Mode != MountReadWriteCreate {
		if _, err := os.Lstat(host); os.IsNotExist(err) {
			return "", errors.PermissionDenied(errors.PhaseOperation, "cannot create "+path)
		}
	}
	return host, nil
}

func (fs *FileSystem) findMount(vp string) *Mount {
	var best *Mount
	for i := range fs.mounts {
		m := &fs.mounts[i]
		if vp == m.VirtualPath || strings.HasPrefix(vp, m.VirtualPath+"/") || m.VirtualPath == "/" {
			if best == nil || len(m.VirtualPath) > len(best.VirtualPath) {
				best = m
			}
		}
	}
	return best
}
