// Command fibtrace is a small demo workload for cc-trace: a recursive
// Fibonacci computation, traced with nested spans and run on a worker
// goroutine alongside the main one.
package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	cctrace "github.com/ClusterCockpit/cc-trace"
)

func main() {
	var flagGops bool
	var flagFile string
	var flagN int
	var flagArgs bool
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagFile, "file", "fibonacci.pftrace", "Output trace file path")
	flag.IntVar(&flagN, "n", 5, "Fibonacci index to compute on the main goroutine")
	flag.BoolVar(&flagArgs, "args", true, "Capture span/event field values as debug annotations")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("parsing '.env' file failed: %s", err.Error())
	}

	layer, guard, err := cctrace.NewBuilder().
		File(flagFile).
		IncludeArgs(flagArgs).
		Build()
	if err != nil {
		cclog.Fatalf("building trace layer failed: %s", err.Error())
	}
	defer guard.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := cctrace.WithRecorder(context.Background(), layer.NewRecorder("myworker"))
		fibonacci(ctx, layer, 6)
	}()

	start := time.Now()
	ctx := context.Background()
	layer.Event(ctx, "cpu_time", cctrace.Float("elapsed_ms", 0))
	fibonacci(ctx, layer, flagN)
	layer.Event(ctx, "cpu_time", cctrace.Float("elapsed_ms", float64(time.Since(start).Milliseconds())))

	wg.Wait()
	layer.Event(ctx, "cpu_time", cctrace.Float("elapsed_ms", float64(time.Since(start).Milliseconds())))
}

func fibonacci(ctx context.Context, layer *cctrace.Layer, n int) int {
	ctx = layer.Enter(ctx, "fibonacci", cctrace.Int("n", int64(n)))
	defer layer.Exit(ctx, "fibonacci")

	if n < 2 {
		time.Sleep(30 * time.Millisecond)
		return n
	}
	return fibonacci(ctx, layer, n-1) + fibonacci(ctx, layer, n-2)
}
