package ideportclient

import (
	"context"
	"testing"

	"github.com/ideport/ideport/internal/build"
)

func TestBatchBuildersCompose(t *testing.T) {
	b := PutModule(Empty(), "M.src", []byte("module M where\nx = 1\n"))
	b = SetCodeGen(b, true)
	b = SetDynamicOptions(b, []string{"-O0"})
	if len(b.Mutations()) != 3 {
		t.Fatalf("Mutations() = %d entries, want 3", len(b.Mutations()))
	}
}

func TestSetEnvOverlayBuildsEnvVars(t *testing.T) {
	v := "1"
	b := SetEnvOverlay(Empty(), []EnvVar{{Name: "DEBUG", Value: &v}})
	if len(b.Mutations()) != 1 {
		t.Fatalf("Mutations() = %d entries, want 1", len(b.Mutations()))
	}
}

func TestNoopPackagerSucceeds(t *testing.T) {
	p := NoopPackager()
	code, err := p.ConfigureAndBuild(context.Background(), build.PackageDescription{}, t.TempDir())
	if err != nil || code != 0 {
		t.Fatalf("ConfigureAndBuild = (%d, %v), want (0, nil)", code, err)
	}
}
