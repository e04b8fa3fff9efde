// Command loadtest нагружает HTTP API магазина сценарием оформления заказа.
//
// Инструмент генерирует собственные JWT-токены, поэтому требует того же
// секрета, что и сервер. По завершении печатает сводку по латентности
// каждой ручки и может сохранить JSON-отчёт.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	transport "github.com/vladislavdragonenkov/candleshop/internal/transport/http"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultQty        = int32(1)
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutSubmit loadMode = "checkout-submit"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	couponCode  string
	jwtSecret   string
	userTag     string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[strconv.Itoa(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: summarize(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(names)),
	}

	for _, name := range names {
		methodResult, ok := c.snapshot(name)
		if !ok {
			continue
		}
		if name == "scenario" {
			result.TotalScenarios = methodResult.Calls
			result.SuccessScenarios = methodResult.Success
			result.FailedScenarios = methodResult.Failed
			result.ErrorRate = methodResult.ErrorRate
			result.ScenarioLatencyMs = methodResult.LatencyMs
			if duration > 0 {
				result.RPS = float64(methodResult.Calls) / duration.Seconds()
			}
			continue
		}
		result.Methods[name] = methodResult
	}

	return result
}

func summarize(latencies []float64) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile ожидает отсортированный по возрастанию срез.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)

	cfg := config{}
	var mode string
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the candleshop API")
	fs.IntVar(&cfg.total, "total", 100, "total number of scenarios to run")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed duration instead of a fixed total")
	fs.IntVar(&cfg.concurrency, "concurrency", 8, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCheckout), "scenario: checkout|checkout-submit")
	fs.StringVar(&cfg.productID, "product", "candle-rose", "product id to order")
	fs.StringVar(&cfg.couponCode, "coupon", "", "coupon code to apply at checkout")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "dev-secret", "JWT secret shared with the server")
	fs.StringVar(&cfg.userTag, "user-tag", "loadtest", "prefix for synthetic user ids")
	fs.StringVar(&cfg.outputPath, "output", "", "path for the JSON report (optional)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(mode)))
	switch cfg.mode {
	case modeCheckout, modeCheckoutSubmit:
	default:
		return config{}, fmt.Errorf("unknown mode %q", mode)
	}

	if cfg.baseURL == "" {
		return config{}, errors.New("url must not be empty")
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	if cfg.total <= 0 && cfg.duration <= 0 {
		return config{}, errors.New("either total or duration must be positive")
	}
	if cfg.concurrency <= 0 {
		return config{}, errors.New("concurrency must be positive")
	}
	if cfg.timeout <= 0 {
		return config{}, errors.New("timeout must be positive")
	}
	if cfg.jwtSecret == "" {
		return config{}, errors.New("jwt-secret must not be empty")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	client := &http.Client{Timeout: cfg.timeout}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type checkoutResult struct {
	Order struct {
		ID string `json:"id"`
	} `json:"order"`
}

func runScenario(client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
	token, err := transport.GenerateToken(cfg.jwtSecret, userID, transport.RoleCustomer, time.Hour)
	if err != nil {
		scenarioStatus = http.StatusInternalServerError
		return err
	}

	checkoutBody := map[string]interface{}{
		"items": []map[string]interface{}{
			{"product_id": cfg.productID, "qty": defaultQty},
		},
	}
	if cfg.couponCode != "" {
		checkoutBody["coupon_code"] = cfg.couponCode
	}

	idemKey := fmt.Sprintf("lt-checkout-%s-%d", runID, index)
	status, body, err := doRequest(client, col, "checkout",
		http.MethodPost, cfg.baseURL+"/api/checkout", token, idemKey, checkoutBody)
	if err != nil || status != http.StatusCreated {
		scenarioStatus = failStatus(status, err)
		return fmt.Errorf("checkout failed: status=%d err=%v", status, err)
	}

	if cfg.mode == modeCheckout {
		return nil
	}

	var created checkoutResult
	if err := json.Unmarshal(body, &created); err != nil || created.Order.ID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("checkout response has no order id")
	}

	submitBody := map[string]interface{}{
		"order_id":      created.Order.ID,
		"upi_reference": fmt.Sprintf("LT%06d%s", index, strings.ToUpper(cfg.userTag)),
	}
	status, _, err = doRequest(client, col, "payment-submit",
		http.MethodPost, cfg.baseURL+"/api/payment/submit", token, "", submitBody)
	if err != nil || status != http.StatusOK {
		scenarioStatus = failStatus(status, err)
		return fmt.Errorf("payment submit failed: status=%d err=%v", status, err)
	}

	return nil
}

func doRequest(
	client *http.Client,
	col *collector,
	method string,
	httpMethod, url, token, idemKey string,
	payload interface{},
) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequest(httpMethod, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		col.record(method, latency, 0)
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		col.record(method, latency, resp.StatusCode)
		return resp.StatusCode, nil, err
	}

	col.record(method, latency, resp.StatusCode)
	return resp.StatusCode, buf.Bytes(), nil
}

func failStatus(status int, err error) int {
	if err != nil || status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

func printReport(result report, cfg config) {
	fmt.Printf("loadtest finished: mode=%s url=%s\n", cfg.mode, cfg.baseURL)
	fmt.Printf("scenarios: total=%d success=%d failed=%d error_rate=%.4f rps=%.2f\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios,
		result.ErrorRate, result.RPS)
	fmt.Printf("scenario latency ms: p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.P50, result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		methodResult := result.Methods[name]
		fmt.Printf("  %-16s calls=%d failed=%d p95=%.2fms codes=%v\n",
			name, methodResult.Calls, methodResult.Failed,
			methodResult.LatencyMs.P95, methodResult.Codes)
	}
}

func writeJSONReport(path string, result report) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, append(data, '\n'), 0o644)
}
