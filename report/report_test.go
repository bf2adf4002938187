package report

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/udhos/ersbackup/dev"
	"github.com/udhos/ersbackup/store"
	"github.com/udhos/ersbackup/temp"
)

// testLogger: wrap Printf interface around *testing.T
type testLogger struct {
	*testing.T
}

func (t *testLogger) Printf(format string, v ...interface{}) {
	t.Logf("report: "+format, v...)
}

var when = time.Date(2016, time.August, 18, 9, 5, 7, 0, time.Local)

func sampleBatch() *dev.BatchResult {
	return &dev.BatchResult{
		Successful: 1,
		Failed:     1,
		Skipped:    1,
		Outcomes: []dev.Outcome{
			{Address: "10.0.0.1", Hostname: "SW1", Status: dev.StatusSuccess, Timestamp: when},
			{Address: "10.0.0.2", Status: dev.StatusFailure, Detail: "step 1 AwaitBanner1: timed out", Timestamp: when.Add(time.Minute)},
		},
		Begin: when,
		End:   when.Add(2 * time.Minute),
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleBatch()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wanted := `18/08/16 09:05:07 10.0.0.1 SW1 : Successful
18/08/16 09:06:07 10.0.0.2 Failure - step 1 AwaitBanner1: timed out

18/08/16 09:07:07 : End of script
Number of Failures : 1
Number of Successful : 1
`
	if got := buf.String(); got != wanted {
		t.Errorf("report mismatch:\ngot:\n%s\nwanted:\n%s", got, wanted)
	}
}

func TestWriteCancelled(t *testing.T) {
	r := sampleBatch()
	r.Cancelled = true
	r.Interrupted = 2

	var buf bytes.Buffer
	if err := Write(&buf, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "Batch cancelled : 2 attempts interrupted\n") {
		t.Errorf("missing cancel line: %s", buf.String())
	}
}

func TestSave(t *testing.T) {
	logger := &testLogger{t}

	repo := temp.MakeTempRepo(t.Name())
	defer temp.CleanupTempRepo(repo)

	prefix := filepath.Join(repo, "report.")

	for i := 0; i < 3; i++ {
		if _, err := Save(prefix, 2, logger, sampleBatch()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	last, findErr := store.FindLastConfig(prefix, logger)
	if findErr != nil {
		t.Fatalf("FindLastConfig: %v", findErr)
	}
	if last != prefix+"2" {
		t.Errorf("last revision: got=%s wanted=%s", last, prefix+"2")
	}

	buf, readErr := ioutil.ReadFile(last)
	if readErr != nil {
		t.Fatalf("read: %v", readErr)
	}
	if !strings.Contains(string(buf), "Number of Successful : 1") {
		t.Errorf("saved report: %s", buf)
	}

	_, list, listErr := store.ListConfig(prefix, logger)
	if listErr != nil {
		t.Fatalf("ListConfig: %v", listErr)
	}
	if len(list) != 2 {
		t.Errorf("rotation: got=%v", list)
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	r := sampleBatch()
	c.DeviceStart("10.0.0.1", when)
	c.DeviceResult(r.Outcomes[0])
	c.DeviceStart("10.0.0.2", when)
	c.DeviceResult(r.Outcomes[1])
	c.Finish(r)

	wanted := `18/08/16 09:05:07 Running on : 10.0.0.1
18/08/16 09:05:07 Successful
18/08/16 09:05:07 Running on : 10.0.0.2
18/08/16 09:06:07 Failure on : 10.0.0.2
End of script
`
	if got := buf.String(); got != wanted {
		t.Errorf("console mismatch:\ngot:\n%s\nwanted:\n%s", got, wanted)
	}
}
