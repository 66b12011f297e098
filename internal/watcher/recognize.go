package watcher

import (
	"path/filepath"
	"strings"
)

// transcriptExtensions is the pluggable recognition rule spec.md §4.6
// leaves to implementers: identify transcript files by extension. JSONL
// is the format internal/transcript.ParseFile reads.
var transcriptExtensions = map[string]bool{
	".jsonl": true,
}

// isTranscriptFile reports whether path looks like a session transcript,
// by extension and by rejecting dotfiles / editor swap artifacts.
func isTranscriptFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return transcriptExtensions[strings.ToLower(filepath.Ext(path))]
}

// computerTag resolves the "computer" tag for an observed path: the
// matching spoke's name if path lies under one of its (enabled)
// directories, path-boundary checked so "/x/laptop" does not match
// "/x/laptop-backup", otherwise the local hostname.
func computerTag(path string, spokes []SpokeDir, hostname string) string {
	for _, s := range spokes {
		if isUnder(path, s.Path) {
			return s.Name
		}
	}
	return hostname
}

// ComputerTag is computerTag's exported form, for callers outside this
// package that build a Job against a path the watcher never itself saw
// (the force-enqueue CLI escape hatch's session file, for instance).
func ComputerTag(path string, spokes []SpokeDir, hostname string) string {
	return computerTag(path, spokes, hostname)
}

// isUnder reports whether path is dir itself or a descendant of dir,
// comparing cleaned, separator-terminated prefixes so a sibling
// directory whose name merely starts with dir's name cannot match.
func isUnder(path, dir string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(dir)
	if cleanPath == cleanDir {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanDir+string(filepath.Separator))
}
