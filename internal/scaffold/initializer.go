package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/blur/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the config file Initialize writes.
const ConfigFile = "blur.yml"

// StateDir holds the update journal of the default config.
const StateDir = ".blur"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes a default blur.yml and the state directory into dir.
// If force is true, it will remove existing blur.yml and .blur/ directory
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, StateDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", StateDir, err)
	}

	if err := writeFiles(dir, files); err != nil {
		return err
	}

	// The written config must load with the same rules the CLI applies
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}

	return nil
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}

	state := filepath.Join(dir, StateDir)
	if info, err := os.Stat(state); err == nil && info.IsDir() {
		if err := os.RemoveAll(state); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", StateDir, err)
		}
	}

	return nil
}

// getTemplateFiles reads and processes all template files
func getTemplateFiles() ([]FileInfo, error) {
	content, err := templatesFS.ReadFile("templates/blur.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}
	return []FileInfo{{
		Path:        ConfigFile,
		Content:     content,
		Permissions: 0644,
	}}, nil
}

// writeFiles writes all template files to disk
func writeFiles(dir string, files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}
