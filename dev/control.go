package dev

import (
	"bytes"
)

// Control characters.
const (
	BS  = 8
	LF  = 10
	CR  = 13
	ESC = 27
)

// findLastLine returns the last line of buf, ignoring a trailing line terminator.
func findLastLine(buf []byte) []byte {

	// remove possible trailing CR LF from end of line
	if len(buf) > 0 && buf[len(buf)-1] == LF {
		buf = buf[:len(buf)-1]
		if len(buf) > 0 && buf[len(buf)-1] == CR {
			buf = buf[:len(buf)-1]
		}
	}

	lastEOL := bytes.LastIndexAny(buf, "\r\n")

	return buf[lastEOL+1:]
}

// removeControlChars renders a single terminal line as a human would see it:
// backspace erases the previous char, ANSI CSI sequences are dropped and
// other control chars are removed. Returns a new slice.
func removeControlChars(line []byte) []byte {
	out := make([]byte, 0, len(line))

	for i := 0; i < len(line); i++ {
		b := line[i]
		switch {
		case b == ESC:
			if i+1 < len(line) && line[i+1] == '[' {
				// skip CSI parameters up to the final byte
				i += 2
				for i < len(line) && (line[i] < 0x40 || line[i] > 0x7E) {
					i++
				}
			}
		case b == BS:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case b == CR:
			out = out[:0] // carriage return: rewrite line
		case b < 32 || b == 127:
		default:
			out = append(out, b)
		}
	}

	return out
}

// diagnosticLine summarizes the tail of buf for error messages.
func diagnosticLine(buf []byte) string {
	const max = 80
	line := removeControlChars(findLastLine(buf))
	if len(line) > max {
		line = line[len(line)-max:]
	}
	return string(line)
}
