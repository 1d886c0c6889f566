package bintype

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/twinfer/bintype/pkg/dsl"
)

// Module is a compiled definition: every class it declares, keyed by name.
// A Module is read-only after Compile and safe for concurrent use; each
// Instance it creates belongs to a single goroutine.
type Module struct {
	classes map[string]*ClassDecl
	order   []string
	logger  *slog.Logger
}

// Option configures Compile.
type Option func(*Module)

// WithLogger sets the logger used by parse and store.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Compile parses and analyzes definition text. Every problem found is
// returned in a single *CompileError.
func Compile(text string, opts ...Option) (*Module, error) {
	m := &Module{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}

	file, err := dsl.Parse(text)
	if err != nil {
		var syntaxErrs dsl.SyntaxErrors
		if !errors.As(err, &syntaxErrs) {
			return nil, fmt.Errorf("parsing definition: %w", err)
		}
		ce := &CompileError{}
		for _, se := range syntaxErrs {
			ce.Errors = append(ce.Errors, &SemanticError{Pos: se.Pos, Msg: se.Msg})
		}
		return nil, ce
	}

	classes, err := Analyze(file)
	if err != nil {
		return nil, err
	}
	m.classes = classes
	for _, c := range file.Classes {
		m.order = append(m.order, c.Name)
	}
	m.logger.Debug("Compiled definition", "classes", m.order)
	return m, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string, opts ...Option) *Module {
	m, err := Compile(text, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Class returns the compiled class with the given name.
func (m *Module) Class(name string) (*ClassDecl, bool) {
	c, ok := m.classes[name]
	return c, ok
}

// Classes returns the class names in declaration order.
func (m *Module) Classes() []string {
	return append([]string(nil), m.order...)
}

// New returns an empty instance of the named class.
func (m *Module) New(class string) (*Instance, error) {
	c, ok := m.classes[class]
	if !ok {
		return nil, fmt.Errorf("unknown bintype %s", class)
	}
	return newInstance(m, c, LittleEndian), nil
}

// Parse decodes one instance of class from r.
func (m *Module) Parse(ctx context.Context, class string, r io.Reader) (*Instance, error) {
	inst, err := m.New(class)
	if err != nil {
		return nil, err
	}
	if err := inst.Parse(ctx, r); err != nil {
		return nil, err
	}
	return inst, nil
}

// ParseBytes decodes one instance of class from data.
func (m *Module) ParseBytes(ctx context.Context, class string, data []byte) (*Instance, error) {
	return m.Parse(ctx, class, bytes.NewReader(data))
}

// Bytes stores the instance into a new byte slice.
func (i *Instance) Bytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := i.Store(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
