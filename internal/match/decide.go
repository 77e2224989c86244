// SPDX-License-Identifier: MIT

package match

import (
	"regexp"
	"strings"

	"github.com/airwavehq/airwave/internal/config"
)

// Decide maps a similarity pair to exactly one of auto_link, review, or
// reject under the given thresholds. Total over [0,1]².
func Decide(artistSim, titleSim float64, th config.Thresholds) Category {
	if artistSim >= th.ArtistAuto && titleSim >= th.TitleAuto {
		return CategoryAutoLink
	}
	if artistSim >= th.ArtistReview && titleSim >= th.TitleReview {
		return CategoryReview
	}
	return CategoryReject
}

// better reports whether a beats b under the tie-break chain: higher
// min(artist, title), then higher sum, then verified, then lower recording
// id.
func better(a, b scoredCandidate) bool {
	amin, bmin := minSim(a.scores), minSim(b.scores)
	if amin != bmin {
		return amin > bmin
	}
	asum := a.scores.ArtistSim + a.scores.TitleSim
	bsum := b.scores.ArtistSim + b.scores.TitleSim
	if asum != bsum {
		return asum > bsum
	}
	if a.candidate.IsVerified != b.candidate.IsVerified {
		return a.candidate.IsVerified
	}
	return a.candidate.RecordingID < b.candidate.RecordingID
}

func minSim(s Scores) float64 {
	if s.ArtistSim < s.TitleSim {
		return s.ArtistSim
	}
	return s.TitleSim
}

const (
	nearThresholdDelta  = 0.05
	truncationRiskRatio = 0.6
	lengthMismatchDelta = 30
)

var extraTextRe = regexp.MustCompile(`(?i)[(\[][^)\]]*(?:feat\.?|ft\.?|featuring|remix)[^)\]]*[)\]]`)

// qualityFlags derives the operator-facing edge-case flags for a match.
// Purely informational.
func qualityFlags(rawTitle, matchedTitle string, scores Scores, th config.Thresholds) []string {
	var flags []string

	if len(rawTitle) > 0 && float64(len(matchedTitle))/float64(len(rawTitle)) < truncationRiskRatio {
		flags = append(flags, FlagTruncationRisk)
	}
	delta := len(matchedTitle) - len(rawTitle)
	if delta < 0 {
		delta = -delta
	}
	if delta > lengthMismatchDelta {
		flags = append(flags, FlagLengthMismatch)
	}
	if extraTextRe.MatchString(matchedTitle) && !extraTextRe.MatchString(rawTitle) {
		flags = append(flags, FlagExtraText)
	}
	if scores.TitleSim == 1.0 && rawTitle != matchedTitle && strings.EqualFold(strings.TrimSpace(rawTitle), matchedTitle) {
		flags = append(flags, FlagCaseOnly)
	}
	if near(scores.ArtistSim, th.ArtistAuto) || near(scores.TitleSim, th.TitleAuto) {
		flags = append(flags, FlagNearAuto)
	}
	if near(scores.ArtistSim, th.ArtistReview) || near(scores.TitleSim, th.TitleReview) {
		flags = append(flags, FlagNearReview)
	}
	return flags
}

func near(sim, threshold float64) bool {
	d := sim - threshold
	if d < 0 {
		d = -d
	}
	return d <= nearThresholdDelta
}
