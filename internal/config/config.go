// Package config handles unstrip.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the project file looked up by FindAndLoad.
const FileName = "unstrip.toml"

var (
	ErrNoImage  = errors.New("config: no image path")
	ErrBadRange = errors.New("config: invalid analysis range")
)

// Config represents an unstrip.toml project configuration.
type Config struct {
	Image    Image    `toml:"image"`
	Analysis Analysis `toml:"analysis"`
	Output   Output   `toml:"output"`
	Memory   Memory   `toml:"memory"`

	// Dir is the directory containing the config file (set at load time).
	Dir string `toml:"-"`
}

// Image describes the program to analyze.
type Image struct {
	Path  string `toml:"path"`
	Kind  string `toml:"kind"`  // "elf" or "raw"
	Base  string `toml:"base"`  // load address for raw images
	Entry string `toml:"entry"` // entry point override
}

// Analysis lists the address ranges to analyze.
type Analysis struct {
	Ranges []Range `toml:"range"`
}

// Range is a half-open address range [Start, End).
type Range struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// Output configures result files.
type Output struct {
	Dir      string `toml:"dir"`
	Graph    bool   `toml:"graph"`
	ASM      bool   `toml:"asm"`
	Database string `toml:"database"` // SQLite debug-tags package
}

// Memory configures address translation.
type Memory struct {
	Mask string `toml:"mask"`
}

// Load parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Defaults
	if c.Image.Kind == "" {
		c.Image.Kind = "elf"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "out"
	}
	if c.Memory.Mask == "" {
		c.Memory.Mask = "0x1FFFFFFF"
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find an unstrip.toml file and
// loads it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ImagePath returns the image path resolved against the config directory.
func (c *Config) ImagePath() (string, error) {
	if c.Image.Path == "" {
		return "", ErrNoImage
	}
	if filepath.IsAbs(c.Image.Path) {
		return c.Image.Path, nil
	}
	return filepath.Join(c.Dir, c.Image.Path), nil
}

// OutputDir returns the output directory resolved against the config directory.
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Output.Dir) {
		return c.Output.Dir
	}
	return filepath.Join(c.Dir, c.Output.Dir)
}

// Bounds is a parsed analysis range.
type Bounds struct {
	Start, End uint32
}

// Ranges parses the configured analysis ranges.
func (c *Config) Ranges() ([]Bounds, error) {
	var out []Bounds
	for i, r := range c.Analysis.Ranges {
		start, err := ParseAddr(r.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: range %d start: %v", ErrBadRange, i, err)
		}
		end, err := ParseAddr(r.End)
		if err != nil {
			return nil, fmt.Errorf("%w: range %d end: %v", ErrBadRange, i, err)
		}
		if end <= start {
			return nil, fmt.Errorf("%w: range %d [0x%08X, 0x%08X) is empty", ErrBadRange, i, start, end)
		}
		out = append(out, Bounds{Start: start, End: end})
	}
	return out, nil
}

// MaskValue returns the parsed translation mask.
func (c *Config) MaskValue() (uint32, error) {
	m, err := ParseAddr(c.Memory.Mask)
	if err != nil {
		return 0, fmt.Errorf("config: memory mask: %w", err)
	}
	return m, nil
}

// ParseAddr parses a 32-bit address written in hex (0x prefix optional).
func ParseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint32(v), nil
}
