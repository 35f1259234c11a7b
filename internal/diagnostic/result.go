package diagnostic

// Span is a half-open source range within one file.
type Span struct {
	Start Pos
	End   Pos
}

// Completion is one auto-completion candidate for a module.
type Completion struct {
	Name string
	Type string
}

// SpanInfo maps a source span to an interned identifier name, via Cache.
type SpanInfo struct {
	Span  Span
	Ident int // Cache id
}

// PackageDep is an external package dependency, optionally version-pinned.
type PackageDep struct {
	Name    string
	Version string // empty means unversioned
}

// ExpType annotates a source span with an interned type string.
type ExpType struct {
	Span Span
	Type int // Cache id
}

// UseSite records a use of an interned identifier at a span.
type UseSite struct {
	Span  Span
	Ident int // Cache id
}

// Diff is an additive delta relative to the prior ComputedResult for one
// per-module field, shipped as Added/Removed rather than a full snapshot.
type Diff[T any] struct {
	Added   []T
	Removed []T
}

// ModuleDiff aggregates every per-module diff kind spec §3 enumerates.
type ModuleDiff struct {
	Imports     Diff[string]
	Completions Diff[Completion]
	SpanInfo    Diff[SpanInfo]
	PackageDeps Diff[PackageDep]
	ExpTypes    Diff[ExpType]
	UseSites    Diff[UseSite]
}

// ComputedResult is the aggregated output of the last successful compile
// cycle (spec §3 "ComputedResult").
type ComputedResult struct {
	Diagnostics   []Diagnostic
	LoadedModules []string
	Cache         *Cache
	ModuleDiffs   map[string]ModuleDiff
}

// Empty returns a ComputedResult with no diagnostics or loaded modules and
// a fresh interner, suitable as the baseline for the first compile.
func Empty() ComputedResult {
	return ComputedResult{Cache: NewCache(), ModuleDiffs: map[string]ModuleDiff{}}
}

// HasErrors reports whether any diagnostic is a SrcError of kind Error.
func (r ComputedResult) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.IsError() {
			return true
		}
	}
	return false
}

// PkgDeps flattens every module's added package dependencies, used by the
// build driver (C10) to derive an external dependency list.
func (r ComputedResult) PkgDeps() []PackageDep {
	seen := map[string]bool{}
	var deps []PackageDep
	for _, md := range r.ModuleDiffs {
		for _, d := range md.PackageDeps.Added {
			key := d.Name + "@" + d.Version
			if seen[key] {
				continue
			}
			seen[key] = true
			deps = append(deps, d)
		}
	}
	return deps
}
