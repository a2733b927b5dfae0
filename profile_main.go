//go:build profile

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/user/axys-mcp/internal/axys"
	"github.com/user/axys-mcp/internal/cache"
)

func main() {
	// Test query
	query := "quarterly revenue by region"

	// Create CPU profile file
	cpuFile, err := os.Create("cpu.prof")
	if err != nil {
		panic(err)
	}
	defer cpuFile.Close()

	// Create memory profile file
	memFile, err := os.Create("mem.prof")
	if err != nil {
		panic(err)
	}
	defer memFile.Close()

	// Start CPU profiling
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		panic(err)
	}
	defer pprof.StopCPUProfile()

	// Setup client
	c, err := cache.New(os.Getenv("AXYS_CACHE_PATH"))
	if err != nil {
		panic(fmt.Errorf("initializing cache: %w", err))
	}
	defer c.Close()

	client, err := axys.New(axys.Config{
		Host: os.Getenv("AXYS_API_HOST"),
		Key:  os.Getenv("MCP_KEY"),
	}, c, nil)
	if err != nil {
		panic(fmt.Errorf("initializing client: %w", err))
	}

	// Print initial memory stats
	var m1 runtime.MemStats
	runtime.ReadMemStats(&m1)
	fmt.Printf("Before search - Alloc: %d MB, TotalAlloc: %d MB, Sys: %d MB, NumGC: %d\n",
		m1.Alloc/1024/1024, m1.TotalAlloc/1024/1024, m1.Sys/1024/1024, m1.NumGC)

	// Run search with timing
	start := time.Now()
	resp, err := client.Search(context.Background(), axys.SearchRequest{
		Query:      query,
		SearchType: axys.SearchTypeStructured,
	})
	elapsed := time.Since(start)

	if err != nil {
		panic(fmt.Errorf("search failed: %w", err))
	}

	// Print final memory stats
	var m2 runtime.MemStats
	runtime.ReadMemStats(&m2)
	fmt.Printf("\nAfter search - Alloc: %d MB, TotalAlloc: %d MB, Sys: %d MB, NumGC: %d\n",
		m2.Alloc/1024/1024, m2.TotalAlloc/1024/1024, m2.Sys/1024/1024, m2.NumGC)

	// Print results summary
	fmt.Printf("\n=== Profile Results ===\n")
	fmt.Printf("Query: %s\n", query)
	fmt.Printf("Upstream status: %d (%s)\n", resp.Status, resp.Message)
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Payload size: %d bytes (%.2f MB)\n", len(resp.Obj), float64(len(resp.Obj))/(1024*1024))
	fmt.Printf("\nMemory delta - Alloc: %+d MB, TotalAlloc: %+d MB, Sys: %+d MB\n",
		(m2.Alloc-m1.Alloc)/1024/1024, (m2.TotalAlloc-m1.TotalAlloc)/1024/1024, (m2.Sys-m1.Sys)/1024/1024)

	// Write memory profile
	runtime.GC() // Force GC before taking memory snapshot
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		panic(err)
	}

	fmt.Println("\nProfiles written to:")
	fmt.Println("  cpu.prof  - CPU profile (analyze with: go tool pprof cpu.prof)")
	fmt.Println("  mem.prof  - Memory profile (analyze with: go tool pprof mem.prof)")
}
