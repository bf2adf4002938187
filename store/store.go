// Package store keeps numbered revisions of a file: prefix.0, prefix.1, ...
// Paths starting with arn:aws:s3: are stored on Amazon S3.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/udhos/equalfile"
)

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

// HasWrite is the destination handed to the write callback of SaveNewConfig.
type HasWrite interface {
	Write(p []byte) (int, error)
}

// Init must be called once before S3 paths are used.
func Init(logger hasPrintf, region string) {
	if logger == nil {
		panic("store.Init: nil logger")
	}
	s3init(logger, region)
}

// S3Path reports whether path lives on Amazon S3.
func S3Path(path string) bool {
	return strings.HasPrefix(path, s3prefix)
}

// ExtractRevisionFromFilename parses the numeric suffix of a revision file.
func ExtractRevisionFromFilename(filename string) (int, error) {
	lastDot := strings.LastIndexByte(filename, '.')
	rev := filename[lastDot+1:]
	id, err := strconv.Atoi(rev)
	if err != nil {
		return -1, fmt.Errorf("ExtractRevisionFromFilename: bad revision [%s]: %v", filename, err)
	}
	return id, nil
}

func revisionPath(prefix, id string) string {
	return prefix + id
}

// shortcut file holds the last revision number, avoiding directory scans
func lastRevisionPath(prefix string) string {
	return prefix + "last"
}

func tryShortcut(prefix string) string {
	id, err := fileFirstLine(lastRevisionPath(prefix))
	if err != nil {
		return ""
	}
	path := revisionPath(prefix, id)
	if fileExists(path) {
		return path
	}
	return ""
}

// FindLastConfig finds the highest numbered revision for prefix.
func FindLastConfig(prefix string, logger hasPrintf) (string, error) {

	if path := tryShortcut(prefix); path != "" {
		return path, nil
	}

	dirname, matches, err := ListConfig(prefix, logger)
	if err != nil {
		return "", err
	}

	if len(matches) < 1 {
		return "", fmt.Errorf("FindLastConfig: no revision found for prefix: %s", prefix)
	}

	maxID := -1
	last := ""
	for _, m := range matches {
		id, idErr := ExtractRevisionFromFilename(m)
		if idErr != nil {
			return "", fmt.Errorf("FindLastConfig: %v", idErr)
		}
		if id >= maxID {
			maxID = id
			last = m
		}
	}

	if S3Path(prefix) {
		return s3join(dirname, last), nil
	}

	return filepath.Join(dirname, last), nil
}

// ListConfig lists the revision file names for prefix, unsorted.
func ListConfig(prefix string, logger hasPrintf) (string, []string, error) {

	dirname, names, dirErr := dirList(prefix)
	if dirErr != nil {
		return dirname, nil, dirErr
	}

	basename := filepath.Base(prefix)
	if S3Path(prefix) {
		basename = s3base(prefix)
	}

	matches := names[:0] // filter in place
	for _, x := range names {
		if x == "" {
			continue
		}
		lastByte := rune(x[len(x)-1])
		if unicode.IsDigit(lastByte) && strings.HasPrefix(x, basename) {
			if _, err := ExtractRevisionFromFilename(x); err != nil {
				logger.Printf("ListConfig: ignoring [%s]: %v", x, err)
				continue
			}
			matches = append(matches, x)
		}
	}

	return dirname, matches, nil
}

// ListConfigSorted lists revision file names ordered by revision.
func ListConfigSorted(prefix string, reverse bool, logger hasPrintf) (string, []string, error) {

	dirname, matches, err := ListConfig(prefix, logger)
	if err != nil {
		return dirname, matches, err
	}

	sort.Slice(matches, func(i, j int) bool {
		id1, _ := ExtractRevisionFromFilename(matches[i])
		id2, _ := ExtractRevisionFromFilename(matches[j])
		if reverse {
			return id1 > id2
		}
		return id1 < id2
	})

	return dirname, matches, nil
}

func dirList(path string) (string, []string, error) {

	if S3Path(path) {
		return s3dirList(path)
	}

	dirname := filepath.Dir(path)

	names, err := ioutil.ReadDir(dirname)
	if err != nil {
		return dirname, nil, fmt.Errorf("dirList: '%s': %v", dirname, err)
	}

	list := make([]string, 0, len(names))
	for _, n := range names {
		list = append(list, n.Name())
	}

	return dirname, list, nil
}

func fileFirstLine(path string) (string, error) {

	var b []byte
	var err error
	if S3Path(path) {
		b, err = s3fileRead(path)
	} else {
		b, err = ioutil.ReadFile(path)
	}
	if err != nil {
		return "", err
	}

	r := bufio.NewReader(bytes.NewReader(b))
	line, _, readErr := r.ReadLine()

	return string(line), readErr
}

func fileExists(path string) bool {

	if S3Path(path) {
		return s3fileExists(path)
	}

	_, err := os.Stat(path)
	return err == nil
}

func fileRemove(path string) error {

	if S3Path(path) {
		return s3fileRemove(path)
	}

	return os.Remove(path)
}

func fileRename(p1, p2 string) error {

	if S3Path(p1) {
		return s3fileRename(p1, p2)
	}

	return os.Rename(p1, p2)
}

// FileRead reads a whole revision file.
func FileRead(path string) ([]byte, error) {

	if S3Path(path) {
		return s3fileRead(path)
	}

	return ioutil.ReadFile(path)
}

func writeFileBuf(path string, buf []byte, contentType string) error {

	if S3Path(path) {
		return s3fileput(path, buf, contentType)
	}

	return ioutil.WriteFile(path, buf, 0640)
}

func writeFile(path string, writeFunc func(HasWrite) error, contentType string) error {

	if S3Path(path) {
		w := &bytes.Buffer{}
		if err := writeFunc(w); err != nil {
			return fmt.Errorf("writeFile: writeFunc: [%s]: %v", path, err)
		}
		return s3fileput(path, w.Bytes(), contentType)
	}

	f, createErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if createErr != nil {
		return fmt.Errorf("writeFile: create: [%s]: %v", path, createErr)
	}

	w := bufio.NewWriter(f)

	if err := writeFunc(w); err != nil {
		f.Close()
		return fmt.Errorf("writeFile: writeFunc: [%s]: %v", path, err)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writeFile: flush: [%s]: %v", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("writeFile: close: [%s]: %v", path, err)
	}

	return nil
}

// SaveNewConfig writes a new revision for prefix and returns its path.
// If changesOnly is set and the content equals the last revision, no
// revision is created and the last revision path is returned.
// At most maxFiles revisions are kept (maxFiles < 1 keeps all).
func SaveNewConfig(prefix string, maxFiles int, logger hasPrintf, writeFunc func(HasWrite) error, changesOnly bool, contentType string) (string, error) {

	tmpPath := revisionPath(prefix, "tmp")
	if fileExists(tmpPath) {
		return "", fmt.Errorf("SaveNewConfig: tmp file exists: [%s]", tmpPath)
	}

	if err := writeFile(tmpPath, writeFunc, contentType); err != nil {
		fileRemove(tmpPath)
		return "", fmt.Errorf("SaveNewConfig: %v", err)
	}

	defer func() {
		if fileExists(tmpPath) {
			fileRemove(tmpPath)
		}
	}()

	lastID := -1
	lastPath, findErr := FindLastConfig(prefix, logger)
	if findErr == nil {
		id, idErr := ExtractRevisionFromFilename(lastPath)
		if idErr != nil {
			return "", fmt.Errorf("SaveNewConfig: %v", idErr)
		}
		lastID = id

		if changesOnly {
			equal, equalErr := fileCompare(lastPath, tmpPath)
			switch {
			case equalErr != nil:
				logger.Printf("SaveNewConfig: could not compare previous=[%s] to new=[%s]: %v", lastPath, tmpPath, equalErr)
			case equal:
				logger.Printf("SaveNewConfig: unchanged, keeping: [%s]", lastPath)
				return lastPath, nil
			}
		}
	}

	newID := lastID + 1
	newPath := revisionPath(prefix, strconv.Itoa(newID))

	if fileExists(newPath) {
		return "", fmt.Errorf("SaveNewConfig: new file exists: [%s]", newPath)
	}

	if renameErr := fileRename(tmpPath, newPath); renameErr != nil {
		return "", fmt.Errorf("SaveNewConfig: rename '%s' to '%s': %v", tmpPath, newPath, renameErr)
	}

	lastIDPath := lastRevisionPath(prefix)
	if err := writeFileBuf(lastIDPath, []byte(strconv.Itoa(newID)), "text/plain"); err != nil {
		logger.Printf("SaveNewConfig: could not update shortcut '%s': %v", lastIDPath, err)
		// a stale shortcut would point to an old revision
		fileRemove(lastIDPath)
	}

	eraseOldFiles(prefix, maxFiles, logger)

	return newPath, nil
}

func eraseOldFiles(prefix string, maxFiles int, logger hasPrintf) {

	if maxFiles < 1 {
		return
	}

	dirname, matches, err := ListConfigSorted(prefix, false, logger)
	if err != nil {
		logger.Printf("eraseOldFiles: %v", err)
		return
	}

	toDelete := len(matches) - maxFiles

	for i := 0; i < toDelete; i++ {
		path := filepath.Join(dirname, matches[i])
		if S3Path(prefix) {
			path = s3join(dirname, matches[i])
		}
		logger.Printf("eraseOldFiles: delete: [%s]", path)
		if err := fileRemove(path); err != nil {
			logger.Printf("eraseOldFiles: delete: [%s]: %v", path, err)
		}
	}
}

// FileInfo returns modification time and size of a revision file.
func FileInfo(path string) (time.Time, int64, error) {

	if S3Path(path) {
		return s3fileInfo(path)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return time.Time{}, 0, statErr
	}

	return info.ModTime(), info.Size(), nil
}

func fileCompare(p1, p2 string) (bool, error) {

	if S3Path(p1) {
		b1, err1 := s3fileRead(p1)
		if err1 != nil {
			return false, err1
		}
		b2, err2 := s3fileRead(p2)
		if err2 != nil {
			return false, err2
		}
		return bytes.Equal(b1, b2), nil
	}

	return equalfile.New(nil, equalfile.Options{}).CompareFile(p1, p2)
}

// MkDir creates the directory holding revisions of prefix.
func MkDir(prefix string) error {

	if S3Path(prefix) {
		return nil // S3 has no directories
	}

	return os.MkdirAll(filepath.Dir(prefix), 0750)
}
