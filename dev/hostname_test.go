package dev

import (
	"testing"
)

func TestExtractHostname(t *testing.T) {
	extract(t, "\r\nERS-4850#", "ERS-4850", true)
	extract(t, "menu text\r\nmore text\r\nCORE-SW1#", "CORE-SW1", true)
	extract(t, "\n#", "", true)
	extract(t, "no line feed#", "", false)
	extract(t, "", "", false)
	extract(t, "prompt\n", "", true)
}

func extract(t *testing.T, buf, wantedHost string, wantedFound bool) {
	host, found := ExtractHostname(buf)
	if host != wantedHost || found != wantedFound {
		t.Errorf("ExtractHostname(%q): got=[%s],%v wanted=[%s],%v", buf, host, found, wantedHost, wantedFound)
	}
}
