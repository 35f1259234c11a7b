// Package update implements the composable, deferred mutation batch
// applied atomically at compile time (spec §4.3, C3).
package update

// Kind discriminates the mutation records a Batch can carry.
type Kind int

const (
	KindPutModule Kind = iota
	KindDeleteModule
	KindPutDataFile
	KindDeleteDataFile
	KindSetDynamicOptions
	KindSetCodeGen
	KindSetEnvOverlay
)

// EnvVar is one entry of a process-environment overlay. A nil Value
// represents "unset this variable" rather than "set it to empty".
type EnvVar struct {
	Name  string
	Value *string
}

// Mutation is one tagged, staged change. Only the fields relevant to Kind
// are meaningful; this mirrors spec §9's instruction to implement batches
// as an ordered list of tagged records, not composed closures, so that
// batches stay introspectable and comparable in tests.
type Mutation struct {
	Kind Kind

	Module   string // KindPutModule / KindDeleteModule
	Source   []byte // KindPutModule

	Path string // KindPutDataFile / KindDeleteDataFile
	Data []byte // KindPutDataFile

	Options []string // KindSetDynamicOptions
	CodeGen bool     // KindSetCodeGen
	Env     []EnvVar // KindSetEnvOverlay
}

// Batch is a sequence of staged mutations. The zero value is Empty.
type Batch struct {
	mutations []Mutation
}

// Empty returns a no-op batch.
func Empty() Batch {
	return Batch{}
}

// Append returns a batch running a's effects then b's. Append never
// collapses overlapping mutations — that happens at Apply time — so the
// result remains fully introspectable (spec §9).
func Append(a, b Batch) Batch {
	out := make([]Mutation, 0, len(a.mutations)+len(b.mutations))
	out = append(out, a.mutations...)
	out = append(out, b.mutations...)
	return Batch{mutations: out}
}

// Mutations returns the ordered list of staged mutations.
func (b Batch) Mutations() []Mutation {
	return b.mutations
}

// IsEmpty reports whether the batch has no staged mutations.
func (b Batch) IsEmpty() bool {
	return len(b.mutations) == 0
}

func with(b Batch, m Mutation) Batch {
	out := make([]Mutation, len(b.mutations)+1)
	copy(out, b.mutations)
	out[len(b.mutations)] = m
	return Batch{mutations: out}
}

// PutModule stages a put of a source module's content.
func PutModule(b Batch, module string, source []byte) Batch {
	return with(b, Mutation{Kind: KindPutModule, Module: module, Source: source})
}

// DeleteModule stages a delete of a source module.
func DeleteModule(b Batch, module string) Batch {
	return with(b, Mutation{Kind: KindDeleteModule, Module: module})
}

// PutDataFile stages a put of a data file's content.
func PutDataFile(b Batch, path string, data []byte) Batch {
	return with(b, Mutation{Kind: KindPutDataFile, Path: path, Data: data})
}

// DeleteDataFile stages a delete of a data file.
func DeleteDataFile(b Batch, path string) Batch {
	return with(b, Mutation{Kind: KindDeleteDataFile, Path: path})
}

// SetDynamicOptions stages a full replace of the dynamic compiler options.
func SetDynamicOptions(b Batch, opts []string) Batch {
	return with(b, Mutation{Kind: KindSetDynamicOptions, Options: opts})
}

// SetCodeGen stages a set of the "generate code" flag.
func SetCodeGen(b Batch, enabled bool) Batch {
	return with(b, Mutation{Kind: KindSetCodeGen, CodeGen: enabled})
}

// SetEnvOverlay stages a set of the process-environment overlay used for
// subsequent Run invocations.
func SetEnvOverlay(b Batch, env []EnvVar) Batch {
	return with(b, Mutation{Kind: KindSetEnvOverlay, Env: env})
}
