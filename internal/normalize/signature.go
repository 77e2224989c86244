// SPDX-License-Identifier: MIT

package normalize

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the stable identity digest of a raw (artist, title)
// pair: a lowercase hex SHA-256 over the canonical artist and title joined by
// "|". Two raw pairs with the same signature share the same work decision.
// Alias resolution of the artist, where applicable, happens before this call.
func Signature(rawArtist, rawTitle string) string {
	artist := CleanArtist(rawArtist)
	title, _ := CleanTitle(rawTitle)
	sum := sha256.Sum256([]byte(artist + "|" + title))
	return hex.EncodeToString(sum[:])
}
