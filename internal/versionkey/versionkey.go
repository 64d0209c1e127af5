// Package versionkey maps version strings onto row keys whose ascending
// lexicographic order is descending version order, so an ordered table scan
// returns the newest release first.
//
// The dots of a version are dropped and the remaining digits read as one
// number n; the key is MaxVersion-n in decimal. "1.4.2" and "142" therefore
// share a key, and versions whose numeric forms differ in digit count only
// order correctly while their keys have the same length (every n below
// 10^18 yields a 19-digit key).
package versionkey

import (
	"math"
	"strconv"
	"strings"
)

const MaxVersion uint64 = math.MaxInt64

// Encode returns the sort key for version. Input that does not parse
// (letters, signs, empty, overflow) is read as 0 and lands on the
// lowest-priority key, strconv.FormatUint(MaxVersion, 10).
func Encode(version string) string {
	n, _ := numeric(version)
	return strconv.FormatUint(MaxVersion-n, 10)
}

// Valid reports whether version encodes without collapsing to 0.
func Valid(version string) bool {
	_, ok := numeric(version)
	return ok
}

func numeric(version string) (uint64, bool) {
	digits := strings.ReplaceAll(version, ".", "")
	n, err := strconv.ParseUint(digits, 10, 63)
	if err != nil {
		return 0, false
	}
	return n, true
}
