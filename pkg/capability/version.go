package capability

import (
	"runtime/debug"
	"strings"
	"sync"
)

const unknownVersion = "UNKNOWN"

var (
	versionOnce sync.Once
	libVersion  string
)

// engineLibraryVersion resolves the installed PDF engine library version from
// build info. Returns UNKNOWN when the binary was built without module data.
func engineLibraryVersion() string {
	versionOnce.Do(func() {
		libVersion = unknownVersion
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, dep := range info.Deps {
			if strings.HasSuffix(dep.Path, "/go-fitz") {
				libVersion = dep.Version
				return
			}
		}
	})
	return libVersion
}
