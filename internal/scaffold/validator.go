package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/blur/internal/config"
)

// CheckExisting checks if a blur config or the .blur/ directory already
// exist in dir. Returns an error if they do, nil otherwise
func CheckExisting(dir string) error {
	var existingFiles []string

	if path, ok := config.Discover(dir); ok {
		existingFiles = append(existingFiles, filepath.Base(path))
	}

	if info, err := os.Stat(filepath.Join(dir, StateDir)); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, StateDir+"/")
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'blur init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
