// Package prefs persists kiosk user preferences in
// ~/.config/kiosk/prefs.toml. Unlike the startup config these are written
// back by the UI, for example when the theme is cycled.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences.
type Prefs struct {
	Theme       string `toml:"theme"`
	VolumeStep  int    `toml:"volume_step"`
	ShowLatency bool   `toml:"show_latency"`
}

const (
	defaultPrefsPath  = "~/.config/kiosk/prefs.toml"
	defaultTheme      = "Nightfox"
	defaultVolumeStep = 5
	maxVolumeStep     = 25
)

// Default returns the preferences used when no file exists.
func Default() Prefs {
	return Prefs{Theme: defaultTheme, VolumeStep: defaultVolumeStep, ShowLatency: true}
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Load reads preferences from path, falling back to defaults when the file
// is missing. A file that cannot be parsed is reported along with the
// defaults so the caller can log it and carry on.
func Load(path string) (Prefs, error) {
	p := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return p, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("open prefs: %w", err)
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return p, fmt.Errorf("read prefs: %w", err)
	}

	if err := toml.Unmarshal(bytes, &p); err != nil {
		return Default(), fmt.Errorf("parse prefs: %w", err)
	}

	p.Theme = strings.TrimSpace(p.Theme)
	if p.Theme == "" {
		p.Theme = defaultTheme
	}
	if p.VolumeStep <= 0 {
		p.VolumeStep = defaultVolumeStep
	}
	if p.VolumeStep > maxVolumeStep {
		p.VolumeStep = maxVolumeStep
	}
	return p, nil
}

// Save writes preferences to path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
