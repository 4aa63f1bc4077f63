package snapshot

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// globFiles recursively collects every file under stateDir/kind whose
// name ends in suffix; jobs are nested one subdirectory deep
// (jobs/<jobid/10000>/<jobid>.job) while queues and resources are
// not, so this walks rather than globbing a fixed depth.
func globFiles(stateDir, kind, suffix string) ([]string, error) {
	root := filepath.Join(stateDir, kind)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, suffix) && !strings.HasSuffix(path, ".new") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
