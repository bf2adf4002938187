package dev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrlogPath builds the full pathname for the errlog file of a device.
func ErrlogPath(repository, address string) string {
	return filepath.Join(repository, address) + ".errlog"
}

// Errlog pushes a one-line summary of o on top of the device errlog,
// keeping at most histSize lines.
func Errlog(logger hasPrintf, o Outcome, repository string, histSize int, debug bool) {

	if histSize < 1 {
		return
	}

	path := ErrlogPath(repository, o.Address)

	f, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if openErr != nil {
		logger.Printf("errlog: could not open dev log: '%s': %v", path, openErr)
		return
	}

	defer f.Close()

	lines, lineErr := loadLines(bufio.NewReader(f), histSize-1)
	if lineErr != nil {
		logger.Printf("errlog: could not load lines: '%s': %v", path, lineErr)
		return
	}

	if debug {
		logger.Printf("errlog debug: '%s': %d lines", path, len(lines))
	}

	if truncErr := f.Truncate(0); truncErr != nil {
		logger.Printf("errlog: truncate error: %v", truncErr)
		return
	}

	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
		logger.Printf("errlog: seek error: %v", seekErr)
		return
	}

	w := bufio.NewWriter(f)
	msg := errlogLine(o)

	if debug {
		logger.Printf("errlog debug: push: '%s': [%s]", path, msg)
	}

	if _, pushErr := w.WriteString(msg + "\n"); pushErr != nil {
		logger.Printf("errlog: push error: '%s': %v", path, pushErr)
		return
	}

	for _, line := range lines {
		if _, writeErr := w.Write(line); writeErr != nil {
			logger.Printf("errlog: write error: '%s': %v", path, writeErr)
			break
		}
	}

	if flushErr := w.Flush(); flushErr != nil {
		logger.Printf("errlog: flush: '%s': %v", path, flushErr)
	}

	if syncErr := f.Sync(); syncErr != nil {
		logger.Printf("errlog: sync: '%s': %v", path, syncErr)
	}
}

func errlogLine(o Outcome) string {
	return fmt.Sprintf("%s success=%v elapsed=%v model=%s dev=%s host=%s transport=%s code=%d step=%s file=%s message=[%s]",
		o.Timestamp.String(),
		o.Success(),
		o.Elapsed(),
		o.Model, o.Address, o.Hostname, o.Transport, o.Code, o.Step, o.Filename, o.Detail)
}

func loadLines(r *bufio.Reader, max int) ([][]byte, error) {
	var lines [][]byte

LOOP:
	for lineCount := 0; lineCount < max; lineCount++ {
		line, readErr := r.ReadBytes(LF)
		if len(line) > 0 {
			lines = append(lines, line)
		}
		switch readErr {
		case io.EOF:
			break LOOP
		case nil:
			continue
		default:
			return lines, readErr
		}
	}

	return lines, nil
}
