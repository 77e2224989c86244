// SPDX-License-Identifier: MIT

package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// PartKind classifies how a part token is written in a title.
type PartKind string

const (
	PartKindNone     PartKind = ""
	PartKindPart     PartKind = "part"
	PartKindMovement PartKind = "movement"
	PartKindNumber   PartKind = "number"
	PartKindRoman    PartKind = "roman"
)

// PartToken is a recognized part discriminator inside a title.
type PartToken struct {
	Kind PartKind
	N    int
}

var (
	partNumRe     = regexp.MustCompile(`(?i)\b(?:part|pt\.?)\s*(\d+)\b`)
	movementNumRe = regexp.MustCompile(`(?i)\b(?:movement|mvt\.?|mov\.?)\s*(\d+)\b`)
	numberNumRe   = regexp.MustCompile(`(?i)\b(?:no\.?|number|#)\s*(\d+)\b`)
	romanRe       = regexp.MustCompile(`(?i)\b(x|ix|viii|vii|vi|v|iv|iii|ii|i)\b`)
)

var romanValues = map[string]int{
	"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5,
	"vi": 6, "vii": 7, "viii": 8, "ix": 9, "x": 10,
}

// ExtractPartNumber detects a part discriminator in a title. Explicit
// part/movement/number tokens win over bare roman numerals; roman numerals
// are recognized I..X as standalone word-bounded tokens.
func ExtractPartNumber(title string) (PartToken, bool) {
	if m := partNumRe.FindStringSubmatch(title); m != nil {
		return PartToken{Kind: PartKindPart, N: atoi(m[1])}, true
	}
	if m := movementNumRe.FindStringSubmatch(title); m != nil {
		return PartToken{Kind: PartKindMovement, N: atoi(m[1])}, true
	}
	if m := numberNumRe.FindStringSubmatch(title); m != nil {
		return PartToken{Kind: PartKindNumber, N: atoi(m[1])}, true
	}
	if m := romanRe.FindStringSubmatch(title); m != nil {
		return PartToken{Kind: PartKindRoman, N: romanValues[strings.ToLower(m[1])]}, true
	}
	return PartToken{}, false
}

// PartsDiffer reports whether two titles denote distinct works by part
// discrimination: exactly one side carries a part token, or both do and the
// tokens disagree in kind or number.
func PartsDiffer(t1, t2 string) bool {
	p1, ok1 := ExtractPartNumber(t1)
	p2, ok2 := ExtractPartNumber(t2)
	switch {
	case !ok1 && !ok2:
		return false
	case ok1 != ok2:
		return true
	default:
		return p1 != p2
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
