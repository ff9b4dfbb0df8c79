package zcomp_test

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/pkg/zcomp"
)

func Example() {
	comp, err := zcomp.New("lz4", 4, zcomp.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer comp.Destroy()

	block := bytes.Repeat([]byte("zcomp "), 4096/6+1)[:4096]

	s := comp.Acquire()
	out, err := s.Compress(block)
	if err != nil {
		fmt.Println(err)
		return
	}
	stored := append([]byte(nil), out...)
	comp.Release(s)

	restored := make([]byte, 4096)
	s = comp.Acquire()
	err = s.Decompress(stored, restored)
	comp.Release(s)

	fmt.Println(err == nil, bytes.Equal(block, restored), len(stored) < len(block))
	fmt.Println(comp.Policy(), comp.Stats().AvailStreams)
	// Output:
	// true true true
	// multi 1
}

func ExampleComp_SetMaxStreams() {
	comp, err := zcomp.New("zstd", 1, zcomp.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer comp.Destroy()

	fmt.Println(comp.Policy(), comp.SetMaxStreams(8))
	// Output:
	// single false
}

func ExampleAvailableAlgorithms() {
	for _, c := range zcomp.AvailableAlgorithms("zstd")[:3] {
		fmt.Println(c.Name, c.Selected)
	}
	// Output:
	// lz4 false
	// lz4hc false
	// zstd true
}
