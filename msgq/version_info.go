package msgq

import "fmt"

// VersionInfo mirrors the teacher library's dotted-version convention
// (amps.VersionInfo), reduced to the three components msgqd reports on
// --version and in admin/status.
type VersionInfo struct {
	Major uint
	Minor uint
	Patch uint
}

// Version is msgqd's own build version, bumped by hand per release.
var Version = VersionInfo{Major: 0, Minor: 1, Patch: 0}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
