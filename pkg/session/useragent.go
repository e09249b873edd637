package session

import (
	_ "embed" // version.txt
	"path"
	"runtime/debug"
	"strings"
)

const libraryName = "cpwebapi-go"

//go:embed version.txt
var libraryVersion string

// buildUserAgent returns "<app> cpwebapi-go/<version>". If app is empty it is derived from the
// main module of the running binary, when build information is available.
func buildUserAgent(app string) string {
	library := libraryName + "/" + strings.TrimSpace(libraryVersion)
	if app == "" {
		app = mainModule()
	}
	if app == "" {
		return library
	}
	return app + " " + library
}

// mainModule names the running binary after the last element of its package path, followed by
// the module version or an abbreviated VCS revision for development builds.
func mainModule() string {
	build, ok := debug.ReadBuildInfo()
	if !ok || build.Path == "" {
		return ""
	}
	name := path.Base(build.Path)
	if v := build.Main.Version; v != "" && v != "(devel)" {
		return name + "/" + v
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) > 8 {
			return name + "/" + setting.Value[:8]
		}
	}
	return name
}
