package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/blur/internal/config"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		setupFunc func(string)
		wantErr   bool
	}{
		{
			name:  "fresh initialization",
			force: false,
			setupFunc: func(dir string) {
				// No setup needed - clean directory
			},
			wantErr: false,
		},
		{
			name:  "force initialization removes existing files",
			force: true,
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
				os.MkdirAll(filepath.Join(dir, StateDir), 0755)
				os.WriteFile(filepath.Join(dir, StateDir, "old.db"), []byte("old"), 0644)
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			tt.setupFunc(tmpDir)

			err := Initialize(tmpDir, tt.force)

			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			cfg, err := config.Load(filepath.Join(tmpDir, ConfigFile))
			if err != nil {
				t.Fatalf("created %s does not load: %v", ConfigFile, err)
			}
			if cfg.Journal == nil || cfg.Journal.Path != ".blur/journal.db" {
				t.Errorf("expected journal under .blur/, got %+v", cfg.Journal)
			}
			if cfg.Registry != nil {
				t.Errorf("registry should be disabled by default")
			}

			if info, err := os.Stat(filepath.Join(tmpDir, StateDir)); err != nil || !info.IsDir() {
				t.Errorf("expected %s/ to exist", StateDir)
			}

			if tt.force {
				if _, err := os.Stat(filepath.Join(tmpDir, StateDir, "old.db")); err == nil {
					t.Errorf("Expected old.db to be removed, but it still exists")
				}
			}
		})
	}
}

func TestHandleForce(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func(string)
	}{
		{
			name: "removes existing blur.yml",
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("content"), 0644)
			},
		},
		{
			name: "removes existing state directory",
			setupFunc: func(dir string) {
				os.MkdirAll(filepath.Join(dir, StateDir), 0755)
				os.WriteFile(filepath.Join(dir, StateDir, "journal.db"), []byte("test"), 0644)
			},
		},
		{
			name: "handles when files don't exist",
			setupFunc: func(dir string) {
				// No files to remove
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			tt.setupFunc(tmpDir)

			if err := handleForce(tmpDir); err != nil {
				t.Errorf("handleForce() error = %v", err)
				return
			}

			if _, err := os.Stat(filepath.Join(tmpDir, ConfigFile)); err == nil {
				t.Errorf("%s should have been removed", ConfigFile)
			}
			if _, err := os.Stat(filepath.Join(tmpDir, StateDir)); err == nil {
				t.Errorf("%s/ should have been removed", StateDir)
			}
		})
	}
}

func TestGetTemplateFiles(t *testing.T) {
	files, err := getTemplateFiles()
	if err != nil {
		t.Fatalf("getTemplateFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != ConfigFile {
		t.Fatalf("expected only %s, got %+v", ConfigFile, files)
	}
	if len(files[0].Content) == 0 {
		t.Errorf("template %s is empty", ConfigFile)
	}
}
