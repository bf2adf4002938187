// Package temp creates temporary repositories for tests.
package temp

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
)

const tempRepoPrefix = "tmp-ersbackup-repo-"

// MakeTempRepo creates a fresh temporary repository directory.
// Each call gets its own directory, so packages tested in parallel never collide.
func MakeTempRepo(label string) string {
	label = strings.NewReplacer("/", "-", " ", "-").Replace(label)
	path, err := ioutil.TempDir("", tempRepoPrefix+label+"-")
	if err != nil {
		panic(fmt.Sprintf("MakeTempRepo: '%s': %v", label, err))
	}
	return path
}

// CleanupTempRepo erases a repository created by MakeTempRepo.
func CleanupTempRepo(path string) {
	if err := os.RemoveAll(path); err != nil {
		panic(fmt.Sprintf("CleanupTempRepo: '%s': %v", path, err))
	}
}
