package dev

import (
	"bytes"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/udhos/ersbackup/temp"
)

func TestErrlog(t *testing.T) {
	logger := &testLogger{t}

	repo := temp.MakeTempRepo(t.Name())
	defer temp.CleanupTempRepo(repo)

	histSize := 3

	for i := 0; i < 5; i++ {
		o := Outcome{
			Address:   "10.0.0.1",
			Hostname:  "SW1",
			Status:    StatusFailure,
			Code:      fetchErrTimeout,
			Detail:    "attempt " + string(rune('0'+i)),
			Begin:     fixedClock(),
			Timestamp: fixedClock().Add(time.Second),
		}
		Errlog(logger, o, repo, histSize, true)
	}

	path := ErrlogPath(repo, "10.0.0.1")
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("read errlog: %v", err)
	}

	lines := bytes.Split(bytes.TrimRight(buf, "\n"), []byte{'\n'})
	if len(lines) != histSize {
		t.Fatalf("lines: got=%d wanted=%d", len(lines), histSize)
	}

	// newest first
	if !strings.Contains(string(lines[0]), "message=[attempt 4]") {
		t.Errorf("first line: %s", lines[0])
	}
	if !strings.Contains(string(lines[2]), "message=[attempt 2]") {
		t.Errorf("last line: %s", lines[2])
	}
	if !strings.Contains(string(lines[0]), "success=false") {
		t.Errorf("status: %s", lines[0])
	}
}

func TestErrlogPath(t *testing.T) {
	if p := ErrlogPath("/var/ersbackup/repo", "10.0.0.1"); p != "/var/ersbackup/repo/10.0.0.1.errlog" {
		t.Errorf("got=%s", p)
	}
}
