package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	cache "github.com/krisalay/offline-cache"
	"github.com/krisalay/offline-cache/accessor"
	"github.com/krisalay/offline-cache/coordinator"
	"github.com/krisalay/offline-cache/policy"
)

// ================= BENCHMARK =================

func main() {
	ctx := context.Background()

	// ---------------- Config ----------------
	const (
		capacity     = 200000
		distinctKeys = 1000
		goroutines   = 200
		opsPerG      = 5000
		fetchLatency = 2 * time.Millisecond
	)

	fmt.Println("\n================ ACCESSOR LOAD BENCHMARK =================")
	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Capacity      :", capacity)
	fmt.Println("Distinct Keys :", distinctKeys)
	fmt.Println("Goroutines    :", goroutines)
	fmt.Println("Ops/Goroutine :", opsPerG)
	fmt.Println("Fetch Latency :", fetchLatency)
	fmt.Println("---------------------------------")

	// ---------------- Cache + Coordinator ----------------
	c := cache.NewBoundedCache[int](cache.WithCapacity(capacity))
	defer c.Close()
	coord := coordinator.New[int]()

	var fetches atomic.Int64
	fetcher := func(key int) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			fetches.Inc()
			select {
			case <-time.After(fetchLatency):
				return key, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}

	accessors := make([]*accessor.Accessor[int], distinctKeys)
	for i := range accessors {
		accessors[i] = accessor.New(fmt.Sprintf("key-%d", i), c, coord, fetcher(i),
			accessor.WithPolicy(policy.Dynamic))
		defer accessors[i].Close()
	}

	// ---------------- Cold Start ----------------
	// Every goroutine asks for the same cold keys at once: the coordinator collapses them.
	fmt.Println("Running cold start (all goroutines, same keys)...")
	start := time.Now()
	wg := sync.WaitGroup{}
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < distinctKeys; i += 10 {
				a := accessor.New(fmt.Sprintf("key-%d", i), c, coord, fetcher(i))
				a.Fetch(ctx, false)
				a.Close()
			}
		}()
	}
	wg.Wait()
	cold := time.Since(start)
	coldFetches := fetches.Load()

	// ---------------- Warm Load ----------------
	fmt.Println("Running warm load...")
	start = time.Now()
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				accessors[(id+j)%distinctKeys].Fetch(ctx, false)
			}
		}(g)
	}
	wg.Wait()
	warm := time.Since(start)
	totalOps := goroutines * opsPerG

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Cold Requests    : %d\n", goroutines*(distinctKeys/10))
	fmt.Printf("Cold Fetches     : %d\n", coldFetches)
	fmt.Printf("Cold Time        : %v\n", cold)
	fmt.Printf("Warm Operations  : %d\n", totalOps)
	fmt.Printf("Warm Fetches     : %d\n", fetches.Load()-coldFetches)
	fmt.Printf("Warm Time        : %v\n", warm)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/warm.Seconds())
	fmt.Println("=========================================")
}
