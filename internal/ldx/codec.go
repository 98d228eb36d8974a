package ldx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"example.com/ldxsync/internal/common"
)

// Backend is one implementation of the LDX wire format.
type Backend interface {
	Name() string
	Decode(data []byte) (*Document, error)
	Encode(d *Document) ([]byte, error)
}

// Codec tries its backends in registration order and falls back to the
// next one whenever a backend fails.
type Codec struct {
	backends []Backend

	mu   sync.Mutex
	last string
}

// NewCodec registers backends in priority order.
func NewCodec(backends ...Backend) *Codec {
	return &Codec{backends: backends}
}

// DefaultCodec prefers the tree backend over the token stream.
func DefaultCodec() *Codec {
	return NewCodec(TreeBackend{}, StreamBackend{})
}

// Backends lists registered backend names in priority order.
func (c *Codec) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// LastBackend names the backend that served the most recent successful call.
func (c *Codec) LastBackend() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Codec) served(name string) {
	c.mu.Lock()
	c.last = name
	c.mu.Unlock()
}

// Decode parses data. Sections that are missing yield empty collections.
func (c *Codec) Decode(data []byte) (*Document, error) {
	if len(c.backends) == 0 {
		return nil, errors.New("ldx: no backends registered")
	}
	var errs []error
	for i, b := range c.backends {
		doc, err := b.Decode(data)
		if err == nil {
			if i > 0 {
				common.Logf("ldx: decode served by fallback backend %s", b.Name())
			}
			c.served(b.Name())
			return doc, nil
		}
		common.Logf("ldx: backend %s decode failed: %v", b.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, combine(ErrFormat, errs)
}

// DecodeFile reads and decodes path.
func (c *Codec) DecodeFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, IOError("read %s: %w", path, err)
	}
	doc, err := c.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Encode serializes d deterministically and re-parses the output with the
// same backend before returning it.
func (c *Codec) Encode(d *Document) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if len(c.backends) == 0 {
		return nil, errors.New("ldx: no backends registered")
	}
	var errs []error
	for i, b := range c.backends {
		data, err := b.Encode(d)
		if err != nil {
			common.Logf("ldx: backend %s encode failed: %v", b.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if _, err := b.Decode(data); err != nil {
			return nil, ValidationError("self-parse of %s output failed: %v", b.Name(), err)
		}
		if i > 0 {
			common.Logf("ldx: encode served by fallback backend %s", b.Name())
		}
		c.served(b.Name())
		return data, nil
	}
	return nil, combine(ErrIO, errs)
}

// combine keeps the kind of the first error when it already carries one.
func combine(fallback error, errs []error) error {
	joined := errors.Join(errs...)
	for _, kind := range []error{ErrFormat, ErrValidation, ErrNotFound, ErrIO} {
		if errors.Is(joined, kind) {
			return joined
		}
	}
	return fmt.Errorf("%w: %w", fallback, joined)
}
