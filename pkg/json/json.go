// Package json is the JSON codec used by zcomp's command line output. It
// wraps goccy/go-json and reuses encode buffers through pool.Pool.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/zcomp/pkg/pool"
)

// buffers larger than this are dropped instead of pooled
const maxPooledBuffer = 1 << 20

var bufferPool = pool.New(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b *bytes.Buffer) {
		b.Reset()
	},
)

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// WriteIndented encodes v with two-space indentation and a trailing newline
// and writes it to w in a single call.
func WriteIndented(w io.Writer, v interface{}) error {
	buf := bufferPool.Get()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Stats reports how well encode buffers are reused
func Stats() pool.Stats {
	return bufferPool.Stats()
}
