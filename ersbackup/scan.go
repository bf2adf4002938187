package main

import (
	"context"
	"os"
	"time"

	"github.com/udhos/ersbackup/dev"
	"github.com/udhos/ersbackup/report"
)

// batchProgress echoes progress to the console and records
// every outcome in the device history.
type batchProgress struct {
	console        *report.Console
	logger         hasPrintf
	repositoryPath string
	histSize       int
	debug          bool
}

func (p *batchProgress) DeviceStart(address string, when time.Time) {
	p.console.DeviceStart(address, when)
}

func (p *batchProgress) DeviceResult(o dev.Outcome) {
	p.console.DeviceResult(o)
	dev.Errlog(p.logger, o, p.repositoryPath, p.histSize, p.debug)
}

// runBatch backs up every device once, then saves the report.
func runBatch(ctx context.Context, ers *app) *dev.BatchResult {

	if !ers.setRunning(true) {
		ers.logf("runBatch: batch already running")
		return nil
	}
	defer ers.setRunning(false)

	opt := ers.options.Get() // batch keeps this copy

	devices, devErr := loadDevices(ers)
	if devErr != nil {
		ers.logf("runBatch: %v", devErr)
		return nil
	}

	job := &dev.BackupJob{
		Options:     *opt,
		Devices:     devices,
		Credentials: ers.cred,
	}

	console := report.NewConsole(os.Stdout)

	progress := &batchProgress{
		console:        console,
		logger:         ers.logger,
		repositoryPath: ers.repositoryPath,
		histSize:       opt.ErrlogHistSize,
		debug:          opt.Debug,
	}

	result, runErr := dev.RunBatch(ctx, ers.logger, ers.table, job, progress)
	if runErr != nil {
		ers.logf("runBatch: %v", runErr)
		return nil
	}

	console.Finish(result)

	reportPath, saveErr := report.Save(ers.reportPathPrefix, opt.MaxReportFiles, ers.logger, result)
	if saveErr != nil {
		ers.logf("runBatch: %v", saveErr)
	} else {
		ers.logf("runBatch: report saved: %s", reportPath)
	}

	ers.setLast(result, reportPath)

	return result
}

func (a *app) setRunning(running bool) bool {
	a.lastLock.Lock()
	defer a.lastLock.Unlock()
	if running && a.running {
		return false
	}
	a.running = running
	return true
}

func (a *app) setLast(r *dev.BatchResult, reportPath string) {
	a.lastLock.Lock()
	defer a.lastLock.Unlock()
	a.last = r
	a.lastReport = reportPath
}

// lastBatch returns the most recent batch result, nil if none finished yet.
func (a *app) lastBatch() (*dev.BatchResult, string, bool) {
	a.lastLock.RLock()
	defer a.lastLock.RUnlock()
	return a.last, a.lastReport, a.running
}
