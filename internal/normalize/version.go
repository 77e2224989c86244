// SPDX-License-Identifier: MIT

package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultVersion is the version tag assigned when no marker is found.
const DefaultVersion = "Original"

var (
	groupRe      = regexp.MustCompile(`[(\[]([^)\]]*)[)\]]`)
	dashSuffixRe = regexp.MustCompile(`(?i)\s-\s((?:\S+\s+)*?(?:live|remix|mix|edit|version|cut|take|session|acoustic|unplugged|demo|radio|extended)\b.*)$`)
	albumLiveRe  = regexp.MustCompile(`(?i)\b(?:live|concert|unplugged|acoustic session)\b`)

	// Negative patterns: part numbers denote distinct works, and long
	// "the …" groups are subtitles, not version markers.
	partTokenRe   = regexp.MustCompile(`(?i)\b(?:part|pt\.?)\s*\d+\b`)
	leadingTheRe  = regexp.MustCompile(`(?i)^the\s+`)
	versionWordRe = regexp.MustCompile(`(?i)\b(live|remix|mix|edit|version|cut|take|session|acoustic|unplugged|demo|radio|extended)\b`)
	shortEditRe   = regexp.MustCompile(`(?i)\b(edit|mix|version|cut|take)\b`)

	titleCaser = cases.Title(language.English)
)

// canonicalTags maps version keywords to their canonical tag, in the order
// tags are emitted when several keywords appear in one marker.
var canonicalTags = []struct {
	keyword string
	tag     string
}{
	{"unplugged", "Unplugged"},
	{"acoustic", "Acoustic"},
	{"live", "Live"},
	{"remix", "Remix"},
	{"radio", "Radio Edit"},
	{"extended", "Extended"},
	{"club", "Club"},
	{"session", "Session"},
	{"demo", "Demo"},
}

// ExtractVersion splits a raw title into its clean form and a version type.
// Strategies apply in order and cumulatively: bracketed version groups, a
// spaced-dash suffix, album context, and short ambiguous parentheses. The
// result is a " / "-joined, order-preserving set of tags; no marker yields
// DefaultVersion.
func ExtractVersion(title, albumTitle string) (clean, versionType string) {
	working := title
	var tags []string

	// Strategy 1: bracketed groups containing a version keyword.
	working = groupRe.ReplaceAllStringFunc(working, func(group string) string {
		content := strings.Trim(group, "()[]")
		if isNegativeGroup(content) {
			return group
		}
		if !versionWordRe.MatchString(content) {
			return group
		}
		tags = append(tags, tagsFromContent(content)...)
		return " "
	})

	// Strategy 2: " - <keyword> …" suffix after a spaced dash.
	if m := dashSuffixRe.FindStringSubmatchIndex(working); m != nil {
		content := working[m[2]:m[3]]
		if !isNegativeGroup(content) {
			tags = append(tags, tagsFromContent(content)...)
			working = working[:m[0]]
		}
	}

	// Strategy 3: album context implies a live recording.
	if len(tags) == 0 && albumTitle != "" && albumLiveRe.MatchString(albumTitle) {
		tags = append(tags, "Live")
	}

	// Strategy 4: short ambiguous parentheses (<= 3 words) with an
	// edit/mix/version/cut/take keyword.
	working = groupRe.ReplaceAllStringFunc(working, func(group string) string {
		content := strings.Trim(group, "()[]")
		if isNegativeGroup(content) {
			return group
		}
		if len(strings.Fields(content)) <= 3 && shortEditRe.MatchString(content) {
			tags = append(tags, tagsFromContent(content)...)
			return " "
		}
		return group
	})

	versionType = joinTags(tags)
	cleanTitle, _ := CleanTitle(working)
	return cleanTitle, versionType
}

// isNegativeGroup reports whether a bracketed group must not be treated as a
// version marker.
func isNegativeGroup(content string) bool {
	if partTokenRe.MatchString(content) {
		return true
	}
	if leadingTheRe.MatchString(content) && len(strings.Fields(content)) > 2 {
		return true
	}
	return false
}

// tagsFromContent derives canonical version tags from marker content. Known
// keywords map to their canonical tag; content with only a generic keyword
// (mix/edit/version/cut/take) is title-cased verbatim.
func tagsFromContent(content string) []string {
	lowered := strings.ToLower(content)
	var tags []string
	for _, ct := range canonicalTags {
		if strings.Contains(lowered, ct.keyword) {
			tags = append(tags, ct.tag)
		}
	}
	if len(tags) == 0 {
		trimmed := collapse(lowered)
		if trimmed != "" {
			tags = append(tags, titleCaser.String(trimmed))
		}
	}
	return tags
}

// joinTags deduplicates preserving order and joins with " / ".
func joinTags(tags []string) string {
	if len(tags) == 0 {
		return DefaultVersion
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return strings.Join(out, " / ")
}
