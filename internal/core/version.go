package core

import (
	"runtime/debug"
	"strings"
)

// Version is resolved once from the embedded build info.
var Version = resolveVersion(debug.ReadBuildInfo)

func resolveVersion(read func() (*debug.BuildInfo, bool)) string {
	info, ok := read()
	if !ok {
		return "devel"
	}

	if v := info.Main.Version; v != "" && v != "(devel)" && !strings.Contains(v, "-0.") && strings.Count(v, "-") < 2 {
		return strings.TrimPrefix(v, "v")
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	revision := settings["vcs.revision"]
	if revision == "" {
		return "devel"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}

	v := "devel-" + revision
	if settings["vcs.modified"] == "true" {
		v += "-dirty"
	}
	return v
}
