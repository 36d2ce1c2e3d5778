package scaffold

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckExisting(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func(dir string)
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "no existing files",
			setupFunc: func(dir string) {},
			wantErr:   false,
		},
		{
			name: "existing blur.yml only",
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, "blur.yml"), []byte("version: '1.0'"), 0644)
			},
			wantErr: true,
			errMsg:  "blur.yml",
		},
		{
			name: "existing blur.toml only",
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, "blur.toml"), []byte(`version = "1.0"`), 0644)
			},
			wantErr: true,
			errMsg:  "blur.toml",
		},
		{
			name: "existing state directory only",
			setupFunc: func(dir string) {
				os.MkdirAll(filepath.Join(dir, StateDir), 0755)
			},
			wantErr: true,
			errMsg:  ".blur/",
		},
		{
			name: "both config and state directory",
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, "blur.yml"), []byte("version: '1.0'"), 0644)
				os.MkdirAll(filepath.Join(dir, StateDir), 0755)
			},
			wantErr: true,
			errMsg:  "Found existing files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			tt.setupFunc(tmpDir)

			err := CheckExisting(tmpDir)

			if (err != nil) != tt.wantErr {
				t.Errorf("CheckExisting() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("CheckExisting() error = %v, should contain %q", err, tt.errMsg)
			}
			if tt.wantErr && !strings.Contains(err.Error(), "blur init --force") {
				t.Errorf("CheckExisting() error should suggest --force")
			}
		})
	}
}
