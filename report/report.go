// Package report renders batch outcomes as the classic backup log:
// one line per device attempt, then a summary footer.
package report

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/udhos/ersbackup/dev"
	"github.com/udhos/ersbackup/store"
)

// TimeLayout is DD/MM/YY HH:MM:SS.
const TimeLayout = "02/01/06 15:04:05"

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

// FormatOutcome renders the report line for one attempt, without line terminator.
func FormatOutcome(o dev.Outcome) string {
	ts := o.Timestamp.Format(TimeLayout)
	if o.Success() {
		return fmt.Sprintf("%s %s %s : Successful", ts, o.Address, o.Hostname)
	}
	return fmt.Sprintf("%s %s Failure - %s", ts, o.Address, o.Detail)
}

// Write renders the full report for r.
func Write(w io.Writer, r *dev.BatchResult) error {
	b := bufio.NewWriter(w)

	for _, o := range r.Outcomes {
		fmt.Fprintln(b, FormatOutcome(o))
	}

	fmt.Fprintln(b)
	fmt.Fprintf(b, "%s : End of script\n", r.End.Format(TimeLayout))
	fmt.Fprintf(b, "Number of Failures : %d\n", r.Failed)
	fmt.Fprintf(b, "Number of Successful : %d\n", r.Successful)

	if r.Cancelled {
		fmt.Fprintf(b, "Batch cancelled : %d attempts interrupted\n", r.Interrupted)
	}

	return b.Flush()
}

// Save stores the report for r as a new revision under prefix.
func Save(prefix string, maxFiles int, logger hasPrintf, r *dev.BatchResult) (string, error) {

	writeFunc := func(w store.HasWrite) error {
		return Write(w, r)
	}

	path, err := store.SaveNewConfig(prefix, maxFiles, logger, writeFunc, false, "text/plain")
	if err != nil {
		return "", fmt.Errorf("report: save: %v", err)
	}

	return path, nil
}

// Console prints user-facing progress while a batch runs.
type Console struct {
	w io.Writer
}

// NewConsole creates a progress printer writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// DeviceStart announces an attempt.
func (c *Console) DeviceStart(address string, when time.Time) {
	fmt.Fprintf(c.w, "%s Running on : %s\n", when.Format(TimeLayout), address)
}

// DeviceResult announces how an attempt ended.
func (c *Console) DeviceResult(o dev.Outcome) {
	ts := o.Timestamp.Format(TimeLayout)
	if o.Success() {
		fmt.Fprintf(c.w, "%s Successful\n", ts)
		return
	}
	fmt.Fprintf(c.w, "%s Failure on : %s\n", ts, o.Address)
}

// Finish announces the end of the batch.
func (c *Console) Finish(r *dev.BatchResult) {
	fmt.Fprintln(c.w, "End of script")
}
