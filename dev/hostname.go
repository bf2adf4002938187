package dev

import (
	"strings"
)

// ExtractHostname recovers the device name from the text read up to and
// including the command prompt character: the name is whatever sits between
// the last line feed and the final (prompt) character.
// found is false when the buffer holds no line feed at all.
func ExtractHostname(buf string) (hostname string, found bool) {
	lastLF := strings.LastIndexByte(buf, LF)
	if lastLF < 0 {
		return "", false
	}
	end := len(buf) - 1
	if lastLF >= end {
		return "", true // line feed is the final character
	}
	return buf[lastLF+1 : end], true
}
