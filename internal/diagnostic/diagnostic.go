// Package diagnostic implements the typed error/warning model and the
// aggregated result of a successful compile cycle.
package diagnostic

import "encoding/json"

// Kind discriminates a source diagnostic from a warning.
type Kind int

const (
	KindError Kind = iota
	KindWarning
)

func (k Kind) String() string {
	if k == KindWarning {
		return "Warning"
	}
	return "Error"
}

// Pos is a one-based line/column source position.
type Pos struct {
	Line int
	Col  int
}

// Diagnostic is either a SrcError (attached to a span in a file) or an
// OtherError (an out-of-band failure with no source location). Other is
// true for the latter; the remaining fields are meaningless when it is.
type Diagnostic struct {
	Other   bool
	Kind    Kind
	File    string
	Start   Pos
	End     Pos
	Message string
}

// SrcError builds a diagnostic anchored to a source span.
func SrcError(kind Kind, file string, start, end Pos, message string) Diagnostic {
	return Diagnostic{Kind: kind, File: file, Start: start, End: end, Message: message}
}

// OtherError builds an out-of-band diagnostic with no source span, used for
// worker-side failures (protocol violations, recovered compiler exceptions).
func OtherError(message string) Diagnostic {
	return Diagnostic{Other: true, Message: message}
}

// IsError reports whether this is a SrcError of kind Error.
func (d Diagnostic) IsError() bool { return !d.Other && d.Kind == KindError }

// wireDiagnostic mirrors the external JSON encoding from spec §6.
type wireDiagnostic struct {
	Kind      string `json:"kind"`
	File      string `json:"file,omitempty"`
	StartLine int    `json:"startline,omitempty"`
	StartCol  int    `json:"startcol,omitempty"`
	EndLine   int    `json:"endline,omitempty"`
	EndCol    int    `json:"endcol,omitempty"`
	Message   string `json:"message"`
}

// MarshalJSON encodes the diagnostic per spec §6: OtherError omits span
// fields and uses kind "message".
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	w := wireDiagnostic{Message: d.Message}
	if d.Other {
		w.Kind = "message"
		return json.Marshal(w)
	}
	w.Kind = d.Kind.String()
	w.File = d.File
	w.StartLine = d.Start.Line
	w.StartCol = d.Start.Col
	w.EndLine = d.End.Line
	w.EndCol = d.End.Col
	return json.Marshal(w)
}

// UnmarshalJSON decodes the external wire encoding back into a Diagnostic.
func (d *Diagnostic) UnmarshalJSON(data []byte) error {
	var w wireDiagnostic
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind == "message" {
		*d = OtherError(w.Message)
		return nil
	}
	kind := KindError
	if w.Kind == "Warning" {
		kind = KindWarning
	}
	*d = SrcError(kind, w.File, Pos{w.StartLine, w.StartCol}, Pos{w.EndLine, w.EndCol}, w.Message)
	return nil
}
