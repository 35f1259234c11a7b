// Package progress carries non-terminal progress steps emitted by a
// compiler worker while it services a Compile or Run request.
package progress

// Progress is a monotonically increasing step counter paired with a
// free-form message. Step starts at 1 for the first event of a request.
type Progress struct {
	Step    int
	Message string
	// Output, when non-nil, carries a chunk of captured stdout produced
	// by a Run request instead of a compile-step message.
	Output []byte
}

// New returns the first progress value of a request.
func New() Progress {
	return Progress{Step: 1}
}

// Update returns the next progress value, advancing Step by one and
// replacing the message.
func Update(p Progress, msg string) Progress {
	return Progress{Step: p.Step + 1, Message: msg}
}

// OutputChunk builds a progress value carrying captured Run output rather
// than a compile-step message.
func OutputChunk(step int, data []byte) Progress {
	out := make([]byte, len(data))
	copy(out, data)
	return Progress{Step: step, Output: out}
}

// IsOutput reports whether this progress value carries captured Run
// output rather than a compile-step message.
func (p Progress) IsOutput() bool {
	return p.Output != nil
}
