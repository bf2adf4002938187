package dev

import (
	"bufio"
	"io"
	"regexp"
)

// shape only: octet range is not checked
var addressPattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// IsValidAddress reports whether s is a dotted quad of 1-3 digit groups.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ReadDeviceList reads one address per line, in input order.
// Only line terminators are stripped; lines are otherwise kept verbatim,
// so malformed entries reach the orchestrator and are skipped there.
func ReadDeviceList(r io.Reader) ([]string, error) {
	var list []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		list = append(list, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return list, err
	}
	return list, nil
}
