// Package keys builds stable cache keys for tracks and tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Track builds the cache key for a parsed track. The sanitized source path
// keeps keys readable in stats output; the xxhash digest keeps them unique
// when sanitization collides.
func Track(id, sourcePath string) string {
	idNorm := sanitize(strings.TrimSpace(id))
	pathSafe := sanitize(strings.TrimSpace(sourcePath))

	const maxPathLen = 120
	if len(pathSafe) > maxPathLen {
		pathSafe = pathSafe[:maxPathLen]
	}

	sum := xxhash.Sum64String(sourcePath)
	return fmt.Sprintf("track:%s:%s:p=%016x", idNorm, pathSafe, sum)
}

// Tile builds the cache key for a raster tile.
func Tile(z, x, y int) string {
	return fmt.Sprintf("tile:%d/%d/%d", z, x, y)
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.' || r == '/':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
