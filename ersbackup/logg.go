package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/udhos/ersbackup/store"
)

// logfile is an io.Writer appending to the last log revision,
// moving to a new revision once the size limit is exceeded.
type logfile struct {
	logPathPrefix     string
	maxFiles          int
	maxFileSize       int64
	sizeCheckInterval time.Duration
	lastSizeCheck     time.Time
	output            *os.File
	logger            hasPrintf // reports trouble with the log file itself
}

// NewLogfile creates a log stream saved as numbered revisions under prefix.
func NewLogfile(prefix string, maxFiles int, maxSize int64, checkInterval time.Duration) *logfile {
	l := &logfile{
		logPathPrefix:     prefix,
		maxFiles:          maxFiles,
		maxFileSize:       maxSize,
		sizeCheckInterval: checkInterval,
		logger:            log.New(os.Stderr, "logfile stderr: ", log.LstdFlags),
	}

	outputPath, lastErr := store.FindLastConfig(l.logPathPrefix, l.logger)
	if lastErr != nil {
		return l
	}

	l.output, _ = openAppend(outputPath)

	return l
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0640)
}

func touchFunc(w store.HasWrite) error {
	header := fmt.Sprintf("%s - %s %s - new log file\n", time.Now().String(), appName, appVersion)
	_, wrErr := w.Write([]byte(header))
	return wrErr
}

func (l *logfile) rotate() {
	if l.output != nil {
		l.output.Close()
		l.output = nil
	}

	outputPath, newErr := store.SaveNewConfig(l.logPathPrefix, l.maxFiles, l.logger, touchFunc, false, "text/plain")
	if newErr != nil {
		l.logger.Printf("logfile.rotate: could not create log revision: %v", newErr)
		return
	}

	var openErr error
	l.output, openErr = openAppend(outputPath)
	if openErr != nil {
		l.output = nil
		l.logger.Printf("logfile.rotate: could not open log: %v", openErr)
	}
}

// Write implements io.Writer in order to be attached to log.New().
func (l *logfile) Write(b []byte) (int, error) {

	if l.output == nil {
		l.rotate()
		if l.output == nil {
			return 0, fmt.Errorf("log: missing output: could not create output file")
		}
	}

	if time.Since(l.lastSizeCheck) > l.sizeCheckInterval {
		l.lastSizeCheck = time.Now()
		info, statErr := l.output.Stat()
		if statErr == nil && info.Size() > l.maxFileSize {
			l.logger.Printf("log: max file size reached: %d > %d", info.Size(), l.maxFileSize)
			l.rotate()
			if l.output == nil {
				return 0, fmt.Errorf("log: rotate failure: could not create output file")
			}
		}
	}

	return l.output.Write(b)
}
