package config

import (
	"fmt"

	"github.com/ideport/ideport/internal/session"
)

// rawSessionConfig is the YAML/JSON5 shape a config file is decoded into
// before being converted to session.Config. Field names are all-lowercase
// in the file (sourcesdir, staticoptions, ...), set by the explicit yaml
// tags below.
type rawSessionConfig struct {
	SourcesDir string `yaml:"sourcesdir"`
	WorkingDir string `yaml:"workingdir"`
	DataDir    string `yaml:"datadir"`
	TempDir    string `yaml:"tempdir"`

	PackageDBs   []string `yaml:"packagedbs"`
	SearchPaths  []string `yaml:"searchpaths"`
	IncludeRoots []string `yaml:"includeroots"`

	DeleteTempOnShutdown bool `yaml:"deletetemponshutdown"`

	StaticOptions    []string `yaml:"staticoptions"`
	SourceExtensions []string `yaml:"sourceextensions"`
}

// Load reads the config file at path (resolving $include directives and
// expanding environment variables) and decodes it into a session.Config.
func Load(path string) (session.Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	decoded, err := decodeRawConfig(raw)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if decoded.SourcesDir == "" {
		return session.Config{}, fmt.Errorf("config: %s: sourcesdir is required", path)
	}
	return session.Config{
		SourcesDir:           decoded.SourcesDir,
		WorkingDir:           decoded.WorkingDir,
		DataDir:              decoded.DataDir,
		TempDir:              decoded.TempDir,
		PackageDBs:           decoded.PackageDBs,
		SearchPaths:          decoded.SearchPaths,
		IncludeRoots:         decoded.IncludeRoots,
		DeleteTempOnShutdown: decoded.DeleteTempOnShutdown,
		StaticOptions:        decoded.StaticOptions,
		SourceExtensions:     decoded.SourceExtensions,
	}, nil
}
