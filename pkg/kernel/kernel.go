//go:build linux

package kernel

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type Version struct {
	Major  int
	Minor  int
	Patch  int
	Flavor string
	valid  bool
}

func (v Version) Valid() bool {
	return v.valid
}

func (v Version) GTE(major int, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

var (
	version     = Version{}
	versionOnce = sync.Once{}
)

// Get reads and caches the running kernel's version. An unparsable release
// string yields an invalid version rather than an error; callers decide
// whether to proceed.
func Get() Version {
	versionOnce.Do(func() {
		uts := &unix.Utsname{}
		if err := unix.Uname(uts); err != nil {
			return
		}
		release := string(uts.Release[:bytes.IndexByte(uts.Release[:], 0)])
		version.valid = parse(release, &version)
	})
	return version
}

func parse(release string, v *Version) bool {
	var partial string
	parsed, _ := fmt.Sscanf(release, "%d.%d%s", &v.Major, &v.Minor, &partial)
	if parsed < 2 {
		return false
	}
	if parsed, _ = fmt.Sscanf(partial, ".%d%s", &v.Patch, &v.Flavor); parsed < 1 {
		v.Flavor = partial
	}
	return true
}
