package dev

import (
	"context"
	"fmt"
	"time"

	"github.com/udhos/ersbackup/conf"
)

// BackupJob is everything a batch run needs. It must not change while the
// batch is running.
type BackupJob struct {
	Options     conf.AppConfig // tftp server, port, timeout, transports, model, concurrency
	Devices     []string       // in input order, possibly malformed
	Credentials Credentials
}

// BatchResult aggregates the outcomes of one batch run.
// Outcomes follow the input order of the device list.
type BatchResult struct {
	Successful  int
	Failed      int
	Skipped     int // malformed addresses, not attempted
	Interrupted int // attempts aborted by cancellation, not counted
	Cancelled   bool
	Outcomes    []Outcome
	Begin       time.Time
	End         time.Time
}

// Progress receives user-facing notifications while the batch runs.
// Calls are never concurrent.
type Progress interface {
	DeviceStart(address string, when time.Time)
	DeviceResult(o Outcome)
}

type indexedOutcome struct {
	index   int
	outcome Outcome
}

type batch struct {
	logger   hasPrintf
	model    *Model
	job      *BackupJob
	progress Progress
	open     opener
	clock    func() time.Time
}

// RunBatch attempts every valid device of job, in order, with at most
// Options.MaxConcurrency sessions open at once. Per-device failures never
// abort the batch. Cancelling ctx stops new attempts, closes the sessions in
// flight and returns what was accumulated so far.
func RunBatch(ctx context.Context, logger hasPrintf, tab *ModelTable, job *BackupJob, progress Progress) (*BatchResult, error) {
	b, err := newBatch(logger, tab, job, progress)
	if err != nil {
		return nil, err
	}
	return b.run(ctx), nil
}

func newBatch(logger hasPrintf, tab *ModelTable, job *BackupJob, progress Progress) (*batch, error) {
	if err := job.Options.Validate(); err != nil {
		return nil, fmt.Errorf("RunBatch: %v", err)
	}

	model, modelErr := tab.GetModel(job.Options.Model)
	if modelErr != nil {
		return nil, fmt.Errorf("RunBatch: %v", modelErr)
	}

	b := &batch{
		logger:   logger,
		model:    model,
		job:      job,
		progress: progress,
		open:     openSession,
		clock:    time.Now,
	}

	return b, nil
}

func (b *batch) run(ctx context.Context) *BatchResult {
	result := &BatchResult{Begin: b.clock()}
	opt := &b.job.Options // alias

	var devices []string
	for _, d := range b.job.Devices {
		if !IsValidAddress(d) {
			b.logger.Printf("RunBatch: skipping invalid address: [%q]", d)
			result.Skipped++
			continue
		}
		devices = append(devices, d)
	}

	deviceCount := len(devices)
	maxConcurrency := opt.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	b.logger.Printf("RunBatch: starting model=%s devices=%d skipped=%d maxConcurrency=%d", b.model.Name(), deviceCount, result.Skipped, maxConcurrency)

	slots := make([]*Outcome, deviceCount)
	resultCh := make(chan indexedOutcome)
	wait := 0
	nextDevice := 0

	for nextDevice < deviceCount || wait > 0 {

		// launch attempts
		for ; nextDevice < deviceCount; nextDevice++ {
			if wait >= maxConcurrency {
				break
			}
			if ctx.Err() != nil {
				if !result.Cancelled {
					b.logger.Printf("RunBatch: cancelled: not starting remaining %d devices", deviceCount-nextDevice)
				}
				result.Cancelled = true
				break
			}

			address := devices[nextDevice]
			if b.progress != nil {
				b.progress.DeviceStart(address, b.clock())
			}

			go func(i int, address string) {
				resultCh <- indexedOutcome{index: i, outcome: attempt(ctx, b.logger, b.open, b.model, address, opt, b.job.Credentials, b.clock)}
			}(nextDevice, address)

			wait++
		}

		if wait < 1 {
			break // cancelled with nothing in flight
		}

		// wait for one attempt to finish
		r := <-resultCh
		wait--

		o := r.outcome
		b.logger.Printf("RunBatch: recv %s host=[%s] status=%s code=%d step=%s msg=[%s] wait=%d remain=%d elap=%s",
			o.Address, o.Hostname, o.Status, o.Code, o.Step, o.Detail, wait, deviceCount-nextDevice, o.Elapsed())

		if o.interrupted() {
			result.Cancelled = true
			result.Interrupted++
			continue
		}

		slots[r.index] = &o

		if o.Success() {
			result.Successful++
		} else {
			result.Failed++
		}

		if b.progress != nil {
			b.progress.DeviceResult(o)
		}
	}

	for _, o := range slots {
		if o != nil {
			result.Outcomes = append(result.Outcomes, *o)
		}
	}

	result.End = b.clock()

	b.logger.Printf("RunBatch: finished elapsed=%s devices=%d success=%d failure=%d skipped=%d interrupted=%d cancelled=%v",
		result.End.Sub(result.Begin), deviceCount, result.Successful, result.Failed, result.Skipped, result.Interrupted, result.Cancelled)

	return result
}
