package update

import "github.com/ideport/ideport/internal/vfs"

// DynamicState is the session-level mutable state a batch can change
// besides the two virtual file stores: the dynamic option list, the
// code-generation flag, and the run-time environment overlay.
type DynamicState struct {
	Options []string
	CodeGen bool
	Env     []EnvVar
}

// Apply runs every mutation in b, in order, against sources/data stores and
// state. Later mutations to the same path/module/field override earlier
// ones, since each mutation is applied as a plain write in sequence —
// exactly the "later puts overwrite earlier puts" rule of spec §4.3.
func Apply(b Batch, sources, data *vfs.Store, state *DynamicState) {
	for _, m := range b.mutations {
		switch m.Kind {
		case KindPutModule:
			sources.Put(m.Module, m.Source)
		case KindDeleteModule:
			sources.Delete(m.Module)
		case KindPutDataFile:
			data.Put(m.Path, m.Data)
		case KindDeleteDataFile:
			data.Delete(m.Path)
		case KindSetDynamicOptions:
			state.Options = append([]string(nil), m.Options...)
		case KindSetCodeGen:
			state.CodeGen = m.CodeGen
		case KindSetEnvOverlay:
			state.Env = append([]EnvVar(nil), m.Env...)
		}
	}
}
