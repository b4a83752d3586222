package shortcut

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// Strategy creates one kind of link from a shortcut path to a target file.
//
// On failure a strategy must leave nothing at the shortcut path, so the
// next strategy in the chain starts clean.
type Strategy interface {
	// Name identifies the strategy.
	Name() string

	// Available reports whether the strategy can work on this system at
	// all. Filesystem-specific failures (a hard link across devices)
	// surface from Link instead.
	Available() bool

	// Link creates the shortcut pointing at target.
	Link(target, shortcut string) error
}

// Built-in strategy names.
const (
	StrategySymlink  = "symlink"
	StrategyHardlink = "hardlink"
	StrategyCopy     = "copy"
)

// defaultOrder is the chain Add walks when no strategy is forced.
var defaultOrder = []string{StrategySymlink, StrategyHardlink, StrategyCopy}

func init() {
	registerBuiltins()
}

// registerBuiltins installs the built-in strategies. Tests that call
// UnregisterAll use this to restore the registry.
func registerBuiltins() {
	Register(symlinkStrategy{})
	Register(hardlinkStrategy{})
	Register(copyStrategy{})
}

type symlinkStrategy struct{}

func (symlinkStrategy) Name() string { return StrategySymlink }

// Available is false on Windows, where unprivileged symlink creation
// cannot be relied on.
func (symlinkStrategy) Available() bool { return runtime.GOOS != "windows" }

func (symlinkStrategy) Link(target, shortcut string) error {
	return os.Symlink(target, shortcut)
}

type hardlinkStrategy struct{}

func (hardlinkStrategy) Name() string { return StrategyHardlink }

func (hardlinkStrategy) Available() bool { return true }

func (hardlinkStrategy) Link(target, shortcut string) error {
	return os.Link(target, shortcut)
}

type copyStrategy struct{}

func (copyStrategy) Name() string { return StrategyCopy }

func (copyStrategy) Available() bool { return true }

// Link copies target byte for byte. Partial copies are removed.
func (copyStrategy) Link(target, shortcut string) error {
	src, err := os.Open(target)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(shortcut, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create shortcut: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(shortcut)
		return fmt.Errorf("failed to copy content: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(shortcut)
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	return nil
}
