package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	digitRun  = regexp.MustCompile(`\d+`)
	logMarker = regexp.MustCompile(`(?i)log`)
	hanRun    = regexp.MustCompile(`\p{Han}+`)
)

// BaseName returns the file name without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ItemNameFromFilename returns the longest run of CJK ideographs in the
// file name once extension, digits and "log" are removed. The first of
// equally long runs wins. Empty when there is none.
func ItemNameFromFilename(filename string) string {
	name := BaseName(filename)
	name = digitRun.ReplaceAllString(name, "")
	name = logMarker.ReplaceAllString(name, "")

	longest := ""
	for _, run := range hanRun.FindAllString(name, -1) {
		if len([]rune(run)) > len([]rune(longest)) {
			longest = run
		}
	}
	return longest
}
