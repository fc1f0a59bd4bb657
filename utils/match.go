package utils

import "strings"

// IsPattern reports whether s contains a '*' wildcard.
func IsPattern(s string) bool {
	return strings.IndexByte(s, '*') >= 0
}

// MatchGlob checks if value matches pattern. A '*' in pattern matches any
// sequence of characters (including none); every other byte matches itself.
//
//	MatchGlob("*", "read")        == true
//	MatchGlob("re*", "read")      == true
//	MatchGlob("*ate", "update")   == true
//	MatchGlob("r*d", "rd")        == true
//	MatchGlob("read", "readonly") == false
func MatchGlob(pattern, value string) bool {
	pIndex, vIndex := 0, 0
	pLen, vLen := len(pattern), len(value)
	// position of the last '*' seen and the value index it was tried at
	star, mark := -1, 0

	for vIndex < vLen {
		switch {
		case pIndex < pLen && pattern[pIndex] == '*':
			star = pIndex
			mark = vIndex
			pIndex++
		case pIndex < pLen && pattern[pIndex] == value[vIndex]:
			pIndex++
			vIndex++
		case star >= 0:
			// backtrack: let the last '*' swallow one more byte
			pIndex = star + 1
			mark++
			vIndex = mark
		default:
			return false
		}
	}

	for pIndex < pLen && pattern[pIndex] == '*' {
		pIndex++
	}
	return pIndex == pLen
}
