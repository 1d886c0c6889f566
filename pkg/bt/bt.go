package bt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/twinfer/bintype/pkg/bintype"
)

// ErrCheckFailed is returned when a parsed instance does not satisfy the
// configured check expression.
var ErrCheckFailed = errors.New("check expression is false")

// Definition is a loaded, compiled definition.
type Definition struct {
	Module *bintype.Module
	// Class is the class decoded when no WithClass option is given.
	Class string
	// Check is the validation run after every parse, if set.
	Check string
	Path  string
}

// manifest is the YAML form of a definition.
type manifest struct {
	Definition string   `yaml:"definition"`
	Includes   []string `yaml:"includes"`
	Class      string   `yaml:"class"`
	Check      string   `yaml:"check"`
}

type cacheEntry struct {
	def    *Definition
	loaded time.Time
}

// Loader wraps compilation and the codec with caching and configuration
type Loader struct {
	cache      map[string]cacheEntry
	cacheMutex sync.RWMutex
	logger     *slog.Logger
	options    options
}

// options holds configuration for the loader
type options struct {
	class         string
	check         string
	logger        *slog.Logger
	enableCaching bool
	cacheTimeout  time.Duration
}

// Option is a function that configures loader options
type Option func(*options)

// WithClass sets the class to decode (defaults to the manifest class, then
// the first class of the definition)
func WithClass(class string) Option {
	return func(o *options) {
		o.class = class
	}
}

// WithCheck sets a check expression evaluated after every parse
func WithCheck(expr string) Option {
	return func(o *options) {
		o.check = expr
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCaching enables definition caching with the specified timeout; a zero
// timeout keeps entries until ClearCache.
func WithCaching(timeout time.Duration) Option {
	return func(o *options) {
		o.enableCaching = true
		o.cacheTimeout = timeout
	}
}

// WithoutCaching compiles the definition on every call
func WithoutCaching() Option {
	return func(o *options) {
		o.enableCaching = false
	}
}

// defaultOptions returns the default configuration
func defaultOptions() options {
	return options{
		logger:        slog.Default(),
		enableCaching: true,
		cacheTimeout:  5 * time.Minute,
	}
}

// Global loader instance for convenience functions
var globalLoader *Loader
var globalLoaderOnce sync.Once

// getGlobalLoader returns a singleton loader instance
func getGlobalLoader() *Loader {
	globalLoaderOnce.Do(func() {
		globalLoader = NewLoader()
	})
	return globalLoader
}

// NewLoader creates a new loader instance with the given options
func NewLoader(opts ...Option) *Loader {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	return &Loader{
		cache:   make(map[string]cacheEntry),
		logger:  options.logger,
		options: options,
	}
}

// ParseBytes parses binary data using the definition at path
func ParseBytes(data []byte, path string, opts ...Option) (*bintype.Instance, error) {
	return getGlobalLoader().ParseBytes(context.Background(), data, path, opts...)
}

// ParseToJSON parses binary data and converts it to JSON
func ParseToJSON(data []byte, path string, opts ...Option) ([]byte, error) {
	return getGlobalLoader().ParseToJSON(context.Background(), data, path, opts...)
}

// StoreFromJSON converts JSON data back to binary format
func StoreFromJSON(jsonData []byte, path string, opts ...Option) ([]byte, error) {
	return getGlobalLoader().StoreFromJSON(context.Background(), jsonData, path, opts...)
}

// Validate compiles the definition at path without parsing any data
func Validate(path string) error {
	return getGlobalLoader().Validate(path)
}

// ParseBytes parses binary data using the definition at path
func (l *Loader) ParseBytes(ctx context.Context, data []byte, path string, opts ...Option) (*bintype.Instance, error) {
	options := l.apply(opts)

	def, err := l.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading definition: %w", err)
	}
	class, err := def.resolveClass(options.class)
	if err != nil {
		return nil, err
	}

	inst, err := def.Module.ParseBytes(ctx, class, data)
	if err != nil {
		return nil, fmt.Errorf("parsing data: %w", err)
	}

	check := options.check
	if check == "" {
		check = def.Check
	}
	if check != "" {
		ok, err := inst.Check(check)
		if err != nil {
			return nil, err
		}
		if !ok {
			l.logger.DebugContext(ctx, "Check failed", "class", class, "check", check)
			return nil, fmt.Errorf("%w: %s", ErrCheckFailed, check)
		}
	}
	return inst, nil
}

// ParseToJSON parses binary data and converts it to JSON with fields in wire
// order
func (l *Loader) ParseToJSON(ctx context.Context, data []byte, path string, opts ...Option) ([]byte, error) {
	inst, err := l.ParseBytes(ctx, data, path, opts...)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(inst.ToDict())
	if err != nil {
		return nil, fmt.Errorf("marshaling to JSON: %w", err)
	}
	return jsonData, nil
}

// StoreFromJSON converts JSON data back to binary format
func (l *Loader) StoreFromJSON(ctx context.Context, jsonData []byte, path string, opts ...Option) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return l.StoreMap(ctx, data, path, opts...)
}

// StoreMap serializes a structured value using the definition at path
func (l *Loader) StoreMap(ctx context.Context, data map[string]any, path string, opts ...Option) ([]byte, error) {
	options := l.apply(opts)

	def, err := l.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading definition: %w", err)
	}
	class, err := def.resolveClass(options.class)
	if err != nil {
		return nil, err
	}

	inst, err := def.Module.New(class)
	if err != nil {
		return nil, err
	}
	if err := inst.FromMap(data); err != nil {
		return nil, fmt.Errorf("building %s: %w", class, err)
	}
	out, err := inst.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("storing data: %w", err)
	}
	return out, nil
}

// Validate compiles the definition at path without parsing any data
func (l *Loader) Validate(path string) error {
	_, err := l.Load(path)
	return err
}

// Load reads and compiles a definition file or manifest, with caching support
func (l *Loader) Load(path string) (*Definition, error) {
	if l.options.enableCaching {
		l.cacheMutex.RLock()
		cached, exists := l.cache[path]
		l.cacheMutex.RUnlock()
		if exists && (l.options.cacheTimeout == 0 || time.Since(cached.loaded) < l.options.cacheTimeout) {
			return cached.def, nil
		}
	}

	def, err := l.load(path)
	if err != nil {
		return nil, err
	}

	if l.options.enableCaching {
		l.cacheMutex.Lock()
		l.cache[path] = cacheEntry{def: def, loaded: time.Now()}
		l.cacheMutex.Unlock()
	}
	return def, nil
}

func (l *Loader) load(path string) (*Definition, error) {
	def := &Definition{Path: path}
	sources := []string{path}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
		if m.Definition == "" {
			return nil, fmt.Errorf("manifest %s has no definition", path)
		}
		dir := filepath.Dir(path)
		sources = []string{resolve(dir, m.Definition)}
		for _, inc := range m.Includes {
			sources = append(sources, resolve(dir, inc))
		}
		def.Class, def.Check = m.Class, m.Check
	}

	var text strings.Builder
	for _, src := range sources {
		raw, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading definition file: %w", err)
		}
		text.Write(raw)
		text.WriteString("\n")
	}

	module, err := bintype.Compile(text.String(), bintype.WithLogger(l.logger))
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}
	def.Module = module
	l.logger.Debug("Loaded definition", "path", path, "classes", module.Classes())
	return def, nil
}

// ClearCache clears the definition cache
func (l *Loader) ClearCache() {
	l.cacheMutex.Lock()
	defer l.cacheMutex.Unlock()
	l.cache = make(map[string]cacheEntry)
}

func (l *Loader) apply(opts []Option) options {
	options := l.options
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// resolveClass picks the class to use for a call.
func (d *Definition) resolveClass(override string) (string, error) {
	class := override
	if class == "" {
		class = d.Class
	}
	if class == "" {
		classes := d.Module.Classes()
		if len(classes) == 0 {
			return "", fmt.Errorf("definition %s declares no classes", d.Path)
		}
		class = classes[0]
	}
	if _, ok := d.Module.Class(class); !ok {
		return "", fmt.Errorf("definition %s has no bintype %s", d.Path, class)
	}
	return class, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
