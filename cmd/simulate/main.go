// Command simulate runs an offline Monte Carlo over a catalog banner and prints the
// observed distribution.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cheggaaa/pb/v3"

	"github.com/xtding233/gacha-pity/internal/catalog"
	"github.com/xtding233/gacha-pity/internal/gacha"
)

func main() {
	dir := flag.String("catalog", "catalog", "catalog directory")
	name := flag.String("banner", "", "banner file name under <catalog>/banners")
	n := flag.Int("n", 10000, "number of draws")
	seed := flag.Uint64("seed", 0, "rng seed; 0 uses the crypto source")
	quiet := flag.Bool("q", false, "hide the progress bar")
	flag.Parse()

	if err := run(*dir, *name, *n, *seed, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
}

func run(dir, name string, n int, seed uint64, quiet bool) error {
	if name == "" {
		return fmt.Errorf("-banner is required")
	}
	if n < 1 || n > gacha.MaxSimulationCount {
		return gacha.ErrSimCount
	}
	raw, err := catalog.NewLoader(dir).LoadMerged(name)
	if err != nil {
		return err
	}
	b, err := catalog.Resolve(raw)
	if err != nil {
		return err
	}

	var rng gacha.RandomSource
	if seed != 0 {
		rng = gacha.NewSeededRNG(seed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bar := pb.StartNew(n)
	if quiet {
		bar.SetWriter(io.Discard)
	}
	res, err := gacha.Simulate(ctx, gacha.SimParams{
		Banner:   b,
		Count:    n,
		Progress: func(done int) { bar.SetCurrent(int64(done)) },
	}, gacha.NewSampler(rng))
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Print(report(b.Name, res))
	return nil
}
