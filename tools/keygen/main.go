// Command keygen generates a deterministic key dataset for shmcache
// benchmarking, outside `go test`. Grounded on
// Voskan-arena-cache/tools/dataset_gen/dataset_gen.go's flag shape and
// uniform/zipf distributions, adapted to emit string keys (xxhash-prefixed
// so duplicate runs with the same seed produce byte-identical files) instead
// of bare uint64s.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/cespare/xxhash/v2"
)

func main() {
	var (
		n       = flag.Int("n", 100_000, "number of keys to generate")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal = flag.Int64("seed", 42, "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		var buf [8]byte
		v := gen()
		for j := range buf {
			buf[j] = byte(v >> (8 * j))
		}
		sum := xxhash.Sum64(buf[:])
		fmt.Fprintf(w, "key-%016x\n", sum)
	}
}
