// Package build implements the package-build driver (spec §4.8, C10): it
// synthesises an in-memory package description from a compile's results
// and drives an opaque configure+build facility against it. The facility
// itself (cabal-style configure/build/haddock) is explicitly out of scope
// per spec §1 and lives behind the Packager interface.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/process"
)

// Dependency is one external package dependency, unversioned unless Version
// is set (spec §4.8: "unversioned dependency, or a pinned version when the
// version string is known").
type Dependency struct {
	Name    string
	Version string
}

// PackageDescription is the in-memory package manifest synthesised ahead of
// a build, mirroring a minimal cabal-file shape.
type PackageDescription struct {
	Name         string
	Version      string
	Modules      []string          // the library's exposed modules, from ComputedResult.LoadedModules
	Executables  map[string]string // target name -> main module
	Dependencies []Dependency
}

// Stage names a build progress checkpoint, invoked on entry and after each
// of dependency resolution, configure, and build/haddock (spec §4.8).
type Stage string

const (
	StageStart      Stage = "start"
	StageDeps       Stage = "deps"
	StageConfigure  Stage = "configure"
	StageBuild      Stage = "build"
	StageHaddock    Stage = "haddock"
)

// Progress is one build checkpoint event.
type Progress struct {
	Stage   Stage
	Message string
}

// Packager is the opaque "configure + build" facility spec §1 places out of
// scope. A Packager consumes a synthesised PackageDescription and drives
// configure/build or configure/haddock against it, reporting an exit code.
type Packager interface {
	ConfigureAndBuild(ctx context.Context, desc PackageDescription, dir string) (exitCode int, err error)
	ConfigureAndHaddock(ctx context.Context, desc PackageDescription, dir string) (exitCode int, err error)
}

// Synthesize builds the package description for one build request: a
// library exposing every loaded module, one executable per target, and
// dependencies flattened from the compute result's package-dependency
// diffs (spec §4.8).
func Synthesize(loadedModules []string, pkgDeps []diagnostic.PackageDep, targets []string) PackageDescription {
	desc := PackageDescription{
		Name:        "main",
		Version:     "1.0",
		Modules:     append([]string(nil), loadedModules...),
		Executables: make(map[string]string, len(targets)),
	}
	for _, t := range targets {
		desc.Executables[t] = t
	}
	for _, d := range pkgDeps {
		desc.Dependencies = append(desc.Dependencies, Dependency{Name: d.Name, Version: d.Version})
	}
	return desc
}

// Driver runs the build pipeline against one Packager.
type Driver struct {
	Packager Packager
}

// NewDriver returns a Driver backed by pkg.
func NewDriver(pkg Packager) *Driver {
	return &Driver{Packager: pkg}
}

// BuildExecutables writes wrapper files for every target whose main module
// isn't literally "Main", redirects stdout/stderr under tempDir/dist/build
// for the duration, and drives configure+build (spec §4.8).
func (d *Driver) BuildExecutables(ctx context.Context, desc PackageDescription, tempDir string, onProgress func(Progress)) (int, error) {
	notify(onProgress, StageStart, "")
	buildDir := filepath.Join(tempDir, "dist", "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return -1, fmt.Errorf("build: create build dir: %w", err)
	}

	notify(onProgress, StageDeps, "")
	for target, module := range desc.Executables {
		if module == "Main" {
			continue
		}
		if err := writeWrapper(buildDir, target, module); err != nil {
			return -1, err
		}
	}

	restore, err := redirectStd(buildDir, "build")
	if err != nil {
		return -1, err
	}
	defer restore()

	notify(onProgress, StageConfigure, "")
	code, err := d.Packager.ConfigureAndBuild(ctx, desc, tempDir)
	notify(onProgress, StageBuild, "")
	return code, err
}

// BuildDoc drives configure+haddock for the current package description,
// redirecting stdout/stderr under tempDir/dist/doc for the duration.
func (d *Driver) BuildDoc(ctx context.Context, desc PackageDescription, tempDir string, onProgress func(Progress)) (int, error) {
	notify(onProgress, StageStart, "")
	docDir := filepath.Join(tempDir, "dist", "doc")
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return -1, fmt.Errorf("build: create doc dir: %w", err)
	}

	restore, err := redirectStd(docDir, "doc")
	if err != nil {
		return -1, err
	}
	defer restore()

	notify(onProgress, StageConfigure, "")
	code, err := d.Packager.ConfigureAndHaddock(ctx, desc, tempDir)
	notify(onProgress, StageHaddock, "")
	return code, err
}

func notify(onProgress func(Progress), stage Stage, msg string) {
	if onProgress != nil {
		onProgress(Progress{Stage: stage, Message: msg})
	}
}

// writeWrapper writes a small Main module under dir that imports module
// and invokes its entry point, for a target whose own module isn't Main
// (spec §4.8).
func writeWrapper(dir, target, module string) error {
	src := fmt.Sprintf("module Main where\nimport qualified %s\nmain :: IO ()\nmain = %s.main\n", module, module)
	path := filepath.Join(dir, target+"_Wrapper.hs")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return fmt.Errorf("build: write wrapper for %s: %w", target, err)
	}
	return nil
}

// redirectStd redirects the process's stdout and stderr to
// dir/<phase>.stdout and dir/<phase>.stderr, returning a restore function
// that reinstates the originals and closes the log files. The caller must
// defer restore() immediately so it runs on every exit path — normal,
// error, or panic (spec §9: "scoped acquisition with guaranteed
// restoration on all exit paths"). redirectStd mutates process-wide state,
// so it acquires the exclusive slot of the process-wide lock (spec §5) for
// the entire window between redirection and restore; restore releases it.
func redirectStd(dir, phase string) (restore func(), err error) {
	unlock := process.Global.Exclusive()

	outPath := filepath.Join(dir, phase+".stdout")
	errPath := filepath.Join(dir, phase+".stderr")

	outFile, err := os.Create(outPath)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("build: open %s: %w", outPath, err)
	}
	errFile, err := os.Create(errPath)
	if err != nil {
		outFile.Close()
		unlock()
		return nil, fmt.Errorf("build: open %s: %w", errPath, err)
	}

	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outFile, errFile

	return func() {
		os.Stdout, os.Stderr = origOut, origErr
		outFile.Close()
		errFile.Close()
		unlock()
	}, nil
}
