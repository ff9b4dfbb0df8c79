package json

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name"`
	Ratio float64  `json:"ratio"`
	Tags  []string `json:"tags,omitempty"`
}

func TestUnmarshalReadsWrittenOutput(t *testing.T) {
	in := sample{Name: "lz4", Ratio: 2.5, Tags: []string{"fast"}}
	var buf bytes.Buffer
	require.NoError(t, WriteIndented(&buf, in))

	var out sample
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, in, out)

	assert.Error(t, Unmarshal([]byte(`{"name":`), &out))
}

func TestWriteIndented(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteIndented(&out, sample{Name: "<zstd>"}))
	assert.Equal(t, "{\n  \"name\": \"<zstd>\",\n  \"ratio\": 0\n}\n", out.String(), "HTML is not escaped")

	before := Stats()
	for i := 0; i < 10; i++ {
		out.Reset()
		require.NoError(t, WriteIndented(&out, sample{Name: "s2"}))
	}
	after := Stats()
	assert.Equal(t, before.Hits+before.Misses+10, after.Hits+after.Misses)
	assert.Zero(t, after.InUse, "buffers are returned")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestWriteIndented_Errors(t *testing.T) {
	assert.Error(t, WriteIndented(failingWriter{}, sample{}))
	assert.Error(t, WriteIndented(&bytes.Buffer{}, map[string]interface{}{"ch": make(chan int)}))
}
