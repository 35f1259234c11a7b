// Package noop provides a reference build.Packager for tests and the demo
// CLI, standing in for the real configure+build facility spec §1 places out
// of scope — the same treatment internal/engine/noop gives the compiler.
package noop

import (
	"context"

	"github.com/ideport/ideport/internal/build"
)

// Packager always succeeds with exit code 0 and does no real work.
type Packager struct{}

// New returns a Packager.
func New() *Packager { return &Packager{} }

// ConfigureAndBuild implements build.Packager.
func (p *Packager) ConfigureAndBuild(ctx context.Context, desc build.PackageDescription, dir string) (int, error) {
	return 0, nil
}

// ConfigureAndHaddock implements build.Packager.
func (p *Packager) ConfigureAndHaddock(ctx context.Context, desc build.PackageDescription, dir string) (int, error) {
	return 0, nil
}
