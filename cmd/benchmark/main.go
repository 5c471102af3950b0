// Benchmark tool for load-testing the Tarifario calculation endpoint.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/scenarios.csv -url http://localhost:8080
//
// The CSV holds one calculation scenario per row:
//   type,category,species,quantity,weight,days,expected
// where expected is the amount the deployed rates should produce for the
// row (empty = don't check). The tool fires the scenarios through a
// worker pool, measures latency and throughput, and reports how many
// results matched the expected amounts.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Scenario is one row of the benchmark CSV.
type Scenario struct {
	Type     string
	Category string
	Species  string
	Quantity float64
	Weight   float64
	Days     float64
	Expected string
}

// CalculateRequest is the Tarifario API request format.
type CalculateRequest struct {
	Type     string         `json:"type"`
	Category string         `json:"category,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// CalculateResponse is the subset of the response the benchmark reads.
type CalculateResponse struct {
	ID       string `json:"id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	RateCode string `json:"rateCode"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	Calculated     int64
	NoRate         int64
	Rejected       int64
	Errors         int64

	Matched    int64
	Mismatched int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to scenario CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Tarifario base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum scenarios to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	repeat := flag.Int("repeat", 1, "Replay the scenario set this many times")
	verbose := flag.Bool("verbose", false, "Print each scenario result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/scenarios.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("===============================================")
	fmt.Println("  TARIFARIO BENCHMARK - tariff calculation")
	fmt.Println("===============================================")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Base URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:  %s\n", *tenantID)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Repeat:     %d\n", *repeat)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Tarifario not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the service is running:")
		fmt.Println("  go run cmd/tarifario/main.go")
		os.Exit(1)
	}
	fmt.Println("service is healthy")

	scenarios, err := readScenarios(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d scenarios\n", len(scenarios))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(scenarios, *baseURL, *tenantID, *workers, *repeat, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readScenarios(path string, limit int) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["type"]; !ok {
		return nil, fmt.Errorf("CSV must have a 'type' column")
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var scenarios []Scenario
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		quantity, _ := strconv.ParseFloat(field(record, "quantity"), 64)
		weight, _ := strconv.ParseFloat(field(record, "weight"), 64)
		days, _ := strconv.ParseFloat(field(record, "days"), 64)

		scenarios = append(scenarios, Scenario{
			Type:     field(record, "type"),
			Category: field(record, "category"),
			Species:  field(record, "species"),
			Quantity: quantity,
			Weight:   weight,
			Days:     days,
			Expected: field(record, "expected"),
		})

		if limit > 0 && len(scenarios) >= limit {
			break
		}
	}

	return scenarios, nil
}

func runBenchmark(scenarios []Scenario, baseURL, tenantID string, numWorkers, repeat int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Scenario, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for sc := range work {
				start := time.Now()
				result, status, err := calculate(client, baseURL, tenantID, sc)
				elapsed := time.Since(start)

				metrics.recordLatency(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				switch {
				case err != nil:
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", sc.Type, sc.Category, err)
					}
					continue
				case status == http.StatusNotFound:
					atomic.AddInt64(&metrics.NoRate, 1)
				case status == http.StatusUnprocessableEntity:
					atomic.AddInt64(&metrics.Rejected, 1)
				case status == http.StatusOK:
					atomic.AddInt64(&metrics.Calculated, 1)
					if sc.Expected != "" {
						if amountsEqual(result.Amount, sc.Expected) {
							atomic.AddInt64(&metrics.Matched, 1)
						} else {
							atomic.AddInt64(&metrics.Mismatched, 1)
							if verbose {
								fmt.Printf("MISMATCH: %s/%s expected %s, got %s\n",
									sc.Type, sc.Category, sc.Expected, result.Amount)
							}
						}
					}
				default:
					atomic.AddInt64(&metrics.Errors, 1)
				}

				if verbose && status == http.StatusOK {
					fmt.Printf("%-20s | %-10s | %s %s | rate %s | %v\n",
						sc.Type, sc.Category, result.Amount, result.Currency,
						result.RateCode, elapsed.Round(time.Microsecond))
				}
			}
		}()
	}

	for r := 0; r < repeat; r++ {
		for _, sc := range scenarios {
			work <- sc
		}
	}
	close(work)

	wg.Wait()
	return metrics
}

func calculate(client *http.Client, baseURL, tenantID string, sc Scenario) (*CalculateResponse, int, error) {
	calcCtx := map[string]any{}
	if sc.Species != "" {
		calcCtx["species"] = sc.Species
	}
	if sc.Quantity > 0 {
		calcCtx["quantity"] = sc.Quantity
	}
	if sc.Weight > 0 {
		calcCtx["weight"] = sc.Weight
	}
	if sc.Days > 0 {
		calcCtx["days"] = sc.Days
	}

	req := CalculateRequest{
		Type:     sc.Type,
		Category: sc.Category,
		Context:  calcCtx,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/calculate", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var result CalculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// amountsEqual compares two decimal strings loosely ("47" == "47.00").
func amountsEqual(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return a == b
	}
	diff := fa - fb
	return diff < 0.005 && diff > -0.005
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n===============================================")
	fmt.Println("  BENCHMARK RESULTS")
	fmt.Println("===============================================")

	fmt.Printf("\nOUTCOMES\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Calculated:       %d\n", m.Calculated)
	fmt.Printf("   No Rate (404):    %d\n", m.NoRate)
	fmt.Printf("   Rejected (422):   %d\n", m.Rejected)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	if m.Matched+m.Mismatched > 0 {
		fmt.Printf("\nEXPECTED AMOUNTS\n")
		fmt.Printf("   Matched:          %d\n", m.Matched)
		fmt.Printf("   Mismatched:       %d\n", m.Mismatched)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)

		m.mu.Lock()
		latencies := make([]time.Duration, len(m.latencies))
		copy(latencies, m.latencies)
		m.mu.Unlock()

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		fmt.Printf("   Latency p50:      %v\n", percentile(latencies, 50))
		fmt.Printf("   Latency p95:      %v\n", percentile(latencies, 95))
		fmt.Printf("   Latency p99:      %v\n", percentile(latencies, 99))
	}

	fmt.Println()
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Microsecond)
}
