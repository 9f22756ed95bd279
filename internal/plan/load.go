package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a plan from path. The format is chosen by
// extension: .cue for CUE, anything else is parsed as YAML.
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	if filepath.Ext(path) == ".cue" {
		return LoadCUE(path, data)
	}
	return LoadYAML(path, bytes.NewReader(data))
}

// LoadYAML decodes a plan document and validates it.
// Unknown fields are rejected so that typos in condition or body names
// surface as errors instead of silently defaulting.
func LoadYAML(source string, r io.Reader) (*Node, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var root Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedError{Source: source, Message: "empty plan document"}
		}
		return nil, &MalformedError{Source: source, Message: err.Error(), Line: yamlLine(err), Err: err}
	}
	return finish(source, &root)
}

// LoadCUE compiles a CUE plan and validates it. The plan is the value of
// the top-level "plan" field if present, otherwise the whole document.
// CUE constraints written alongside the plan are checked by the compiler
// before decoding.
func LoadCUE(source string, data []byte) (*Node, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(source))
	if err := v.Err(); err != nil {
		return nil, cueMalformed(source, err)
	}

	if p := v.LookupPath(cue.ParsePath("plan")); p.Exists() {
		v = p
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueMalformed(source, err)
	}

	var root Node
	if err := v.Decode(&root); err != nil {
		return nil, cueMalformed(source, err)
	}
	return finish(source, &root)
}

func finish(source string, root *Node) (*Node, error) {
	if err := Validate(root); err != nil {
		var me *MalformedError
		if errors.As(err, &me) && me.Source == "" {
			me.Source = source
		}
		return nil, err
	}
	return root, nil
}

func cueMalformed(source string, err error) *MalformedError {
	me := &MalformedError{Source: source, Message: cueerrors.Details(err, nil), Err: err}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		if pos := errs[0].Position(); pos.IsValid() {
			me.Line = pos.Line()
		}
		me.Message = errs[0].Error()
	}
	return me
}

// yamlLine extracts a line number from a yaml.v3 error message, if any.
func yamlLine(err error) int {
	var te *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg = te.Errors[0]
	}
	var line int
	if _, scanErr := fmt.Sscanf(msg, "yaml: line %d:", &line); scanErr == nil {
		return line
	}
	if _, scanErr := fmt.Sscanf(msg, "line %d:", &line); scanErr == nil {
		return line
	}
	return 0
}
