package compression

import (
	"strings"
	"sync"

	"github.com/ajitpratap0/zcomp/pkg/errors"
)

// Built-in algorithm names, in registry order.
const (
	LZ4     = "lz4"
	LZ4HC   = "lz4hc"
	Zstd    = "zstd"
	Snappy  = "snappy"
	S2      = "s2"
	MinLZ   = "minlz"
	Deflate = "deflate"
	Brotli  = "brotli"
)

// DefaultAlgorithm is used when no algorithm is configured
const DefaultAlgorithm = LZ4

// Factory builds a codec
type Factory func(opts Options) (Codec, error)

// Choice is one entry of the algorithm listing
type Choice struct {
	Name     string `json:"name" yaml:"name"`
	Selected bool   `json:"selected" yaml:"selected"`
}

// Registry is an ordered set of named codec factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry holding the built-in codecs
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister(LZ4, newLZ4Codec)
	r.mustRegister(LZ4HC, newLZ4HCCodec)
	r.mustRegister(Zstd, newZstdCodec)
	r.mustRegister(Snappy, newSnappyCodec)
	r.mustRegister(S2, newS2Codec)
	r.mustRegister(MinLZ, newMinLZCodec)
	r.mustRegister(Deflate, newDeflateCodec)
	r.mustRegister(Brotli, newBrotliCodec)
	return r
}

func (r *Registry) mustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Register appends a codec factory. Names must be unique and non-empty.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || strings.TrimSpace(name) != name || f == nil {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "invalid codec registration %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "codec %q already registered", name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// Lookup resolves a user-supplied name to its registered form. Surrounding
// whitespace, such as the trailing newline of a line read from a file, is
// ignored; the remainder must match exactly.
func (r *Registry) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.factories[name]; ok {
		return name, true
	}
	return "", false
}

// IsAvailable reports whether name resolves to a registered codec
func (r *Registry) IsAvailable(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Available lists every registered name, marking current as selected
func (r *Registry) Available(current string) []Choice {
	names := r.Names()
	out := make([]Choice, len(names))
	for i, n := range names {
		out[i] = Choice{Name: n, Selected: n == current}
	}
	return out
}

// FormatAvailable renders the listing as space-separated names with the
// selected one in brackets, terminated by a newline: "[lz4] lz4hc zstd\n".
func (r *Registry) FormatAvailable(current string) string {
	var b strings.Builder
	for _, c := range r.Available(current) {
		if c.Selected {
			b.WriteString("[")
			b.WriteString(c.Name)
			b.WriteString("] ")
		} else {
			b.WriteString(c.Name)
			b.WriteString(" ")
		}
	}
	b.WriteString("\n")
	return b.String()
}

// NewCodec builds a codec for name
func (r *Registry) NewCodec(name string, opts Options) (Codec, error) {
	canonical, ok := r.Lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown compression algorithm %q", name)
	}
	r.mu.RLock()
	f := r.factories[canonical]
	r.mu.RUnlock()

	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	c, err := f(opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "failed to create codec").
			WithDetail("algorithm", canonical)
	}
	return c, nil
}

var defaultRegistry = NewDefaultRegistry()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// Register adds a codec to the process-wide registry
func Register(name string, f Factory) error {
	return defaultRegistry.Register(name, f)
}

// Lookup resolves name in the process-wide registry
func Lookup(name string) (string, bool) {
	return defaultRegistry.Lookup(name)
}

// IsAvailable reports whether name is in the process-wide registry
func IsAvailable(name string) bool {
	return defaultRegistry.IsAvailable(name)
}

// Names returns the names in the process-wide registry
func Names() []string {
	return defaultRegistry.Names()
}

// Available lists the process-wide registry
func Available(current string) []Choice {
	return defaultRegistry.Available(current)
}

// FormatAvailable renders the process-wide registry
func FormatAvailable(current string) string {
	return defaultRegistry.FormatAvailable(current)
}

// NewCodec builds a codec from the process-wide registry
func NewCodec(name string, opts Options) (Codec, error) {
	return defaultRegistry.NewCodec(name, opts)
}
