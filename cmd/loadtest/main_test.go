package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseFlags(nil)
		if err != nil {
			t.Fatalf("parseFlags: %v", err)
		}
		if cfg.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q", cfg.baseURL)
		}
		if cfg.total != 100 || cfg.totalSet {
			t.Errorf("total = %d totalSet = %v", cfg.total, cfg.totalSet)
		}
		if cfg.mode != modeCheckout {
			t.Errorf("mode = %q", cfg.mode)
		}
		if cfg.concurrency != 8 || cfg.timeout != 10*time.Second {
			t.Errorf("concurrency = %d timeout = %v", cfg.concurrency, cfg.timeout)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := parseFlags([]string{
			"-url", "http://shop.local:9999/",
			"-total", "25",
			"-mode", " Checkout-Submit ",
			"-coupon", "SAVE10",
			"-output", "report.json",
		})
		if err != nil {
			t.Fatalf("parseFlags: %v", err)
		}
		if cfg.baseURL != "http://shop.local:9999" {
			t.Errorf("trailing slash not trimmed: %q", cfg.baseURL)
		}
		if !cfg.totalSet || cfg.total != 25 {
			t.Errorf("total = %d totalSet = %v", cfg.total, cfg.totalSet)
		}
		if cfg.mode != modeCheckoutSubmit {
			t.Errorf("mode = %q", cfg.mode)
		}
		if cfg.couponCode != "SAVE10" || cfg.outputPath != "report.json" {
			t.Errorf("coupon = %q output = %q", cfg.couponCode, cfg.outputPath)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		cases := map[string][]string{
			"unknown mode":     {"-mode", "teardown"},
			"empty url":        {"-url", ""},
			"zero work":        {"-total", "0"},
			"bad concurrency":  {"-concurrency", "0"},
			"bad timeout":      {"-timeout", "-1s"},
			"empty jwt secret": {"-jwt-secret", ""},
		}
		for name, args := range cases {
			if _, err := parseFlags(args); err == nil {
				t.Errorf("%s: expected error for %v", name, args)
			}
		}
	})

	t.Run("duration without total", func(t *testing.T) {
		cfg, err := parseFlags([]string{"-duration", "3s"})
		if err != nil {
			t.Fatalf("parseFlags: %v", err)
		}
		if cfg.duration != 3*time.Second || cfg.totalSet {
			t.Errorf("duration = %v totalSet = %v", cfg.duration, cfg.totalSet)
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("fixed total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for id := range jobs {
			got = append(got, id)
		}
		if len(got) != 5 || got[0] != 0 || got[4] != 4 {
			t.Fatalf("jobs = %v", got)
		}
	})

	t.Run("duration capped by total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 3, totalSet: true, duration: time.Minute})

		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("count = %d, want 3", count)
		}
	})

	t.Run("duration expires", func(t *testing.T) {
		jobs := make(chan int)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range jobs {
			}
		}()

		dispatchJobs(jobs, config{duration: 20 * time.Millisecond})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatchJobs did not stop after duration")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record("checkout", 10*time.Millisecond, http.StatusCreated)
	col.record("checkout", 30*time.Millisecond, http.StatusBadRequest)
	col.record("scenario", 40*time.Millisecond, http.StatusOK)
	col.record("scenario", 60*time.Millisecond, http.StatusInternalServerError)

	snap, ok := col.snapshot("checkout")
	if !ok {
		t.Fatal("snapshot missing for checkout")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Errorf("checkout snapshot = %+v", snap)
	}
	if snap.Codes["201"] != 1 || snap.Codes["400"] != 1 {
		t.Errorf("codes = %v", snap.Codes)
	}
	if snap.ErrorRate != 0.5 {
		t.Errorf("error rate = %v", snap.ErrorRate)
	}

	if _, ok := col.snapshot("unknown"); ok {
		t.Error("snapshot for unknown method should be absent")
	}

	result := col.buildReport(time.Now(), 2*time.Second)
	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Errorf("scenario totals = %+v", result)
	}
	if result.RPS != 1 {
		t.Errorf("rps = %v", result.RPS)
	}
	if _, ok := result.Methods["scenario"]; ok {
		t.Error("scenario must not appear among methods")
	}
	if _, ok := result.Methods["checkout"]; !ok {
		t.Error("checkout method missing from report")
	}
}

func TestSummarizeAndPercentile(t *testing.T) {
	if got := summarize(nil); got != (latencySummary{}) {
		t.Errorf("summarize(nil) = %+v", got)
	}

	summary := summarize([]float64{30, 10, 20, 40})
	if summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.P50 != 25 {
		t.Errorf("p50 = %v, want interpolated 25", summary.P50)
	}

	if got := percentile(nil, 95); got != 0 {
		t.Errorf("percentile(nil) = %v", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Errorf("percentile(single) = %v", got)
	}
	if got := percentile([]float64{0, 100}, 50); got != 50 {
		t.Errorf("percentile interpolation = %v", got)
	}

	if got := ratio(1, 0); got != 0 {
		t.Errorf("ratio with zero total = %v", got)
	}
	if got := ratio(1, 4); got != 0.25 {
		t.Errorf("ratio = %v", got)
	}
}

func TestFailStatus(t *testing.T) {
	if got := failStatus(0, nil); got != http.StatusInternalServerError {
		t.Errorf("failStatus(0, nil) = %d", got)
	}
	if got := failStatus(http.StatusBadRequest, nil); got != http.StatusBadRequest {
		t.Errorf("failStatus(400, nil) = %d", got)
	}
	if got := failStatus(http.StatusOK, os.ErrDeadlineExceeded); got != http.StatusInternalServerError {
		t.Errorf("failStatus with error = %d", got)
	}
}

func TestRunScenario(t *testing.T) {
	type seen struct {
		path    string
		auth    string
		idemKey string
		body    map[string]interface{}
	}

	var requests []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, seen{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			idemKey: r.Header.Get(idempotencyHeader),
			body:    body,
		})

		switch r.URL.Path {
		case "/api/checkout":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{"id":"order-77"}}`))
		case "/api/payment/submit":
			_, _ = w.Write([]byte(`{"order":{"id":"order-77"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config{
		baseURL:    srv.URL,
		mode:       modeCheckoutSubmit,
		productID:  "candle-rose",
		couponCode: "SAVE10",
		jwtSecret:  "test-secret",
		userTag:    "lt",
	}
	col := newCollector()

	if err := runScenario(srv.Client(), cfg, 3, "run-1", col); err != nil {
		t.Fatalf("runScenario: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(requests))
	}
	checkoutReq, submitReq := requests[0], requests[1]
	if checkoutReq.path != "/api/checkout" || submitReq.path != "/api/payment/submit" {
		t.Errorf("paths = %q %q", checkoutReq.path, submitReq.path)
	}
	if !strings.HasPrefix(checkoutReq.auth, "Bearer ") {
		t.Errorf("auth header = %q", checkoutReq.auth)
	}
	if checkoutReq.idemKey != "lt-checkout-run-1-3" {
		t.Errorf("idempotency key = %q", checkoutReq.idemKey)
	}
	if checkoutReq.body["coupon_code"] != "SAVE10" {
		t.Errorf("coupon not passed: %v", checkoutReq.body)
	}
	if submitReq.body["order_id"] != "order-77" {
		t.Errorf("order id not propagated: %v", submitReq.body)
	}
	ref, _ := submitReq.body["upi_reference"].(string)
	if len(ref) < 10 {
		t.Errorf("upi reference too short: %q", ref)
	}

	result := col.buildReport(time.Now(), time.Second)
	if result.SuccessScenarios != 1 || result.FailedScenarios != 0 {
		t.Errorf("report = %+v", result)
	}
	if result.Methods["checkout"].Codes["201"] != 1 {
		t.Errorf("checkout codes = %v", result.Methods["checkout"].Codes)
	}
}

func TestRunScenarioCheckoutFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient stock"}`))
	}))
	defer srv.Close()

	cfg := config{
		baseURL:   srv.URL,
		mode:      modeCheckout,
		productID: "candle-rose",
		jwtSecret: "test-secret",
		userTag:   "lt",
	}
	col := newCollector()

	if err := runScenario(srv.Client(), cfg, 0, "run-2", col); err == nil {
		t.Fatal("expected scenario error on 400")
	}

	result := col.buildReport(time.Now(), time.Second)
	if result.FailedScenarios != 1 {
		t.Errorf("failed scenarios = %d", result.FailedScenarios)
	}
	if result.Methods["checkout"].Codes["400"] != 1 {
		t.Errorf("checkout codes = %v", result.Methods["checkout"].Codes)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	result := report{TotalScenarios: 5, SuccessScenarios: 5}

	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("writeJSONReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if decoded.TotalScenarios != 5 {
		t.Errorf("total = %d", decoded.TotalScenarios)
	}
}

func TestPrintReport(t *testing.T) {
	result := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			"checkout": {Calls: 2, Codes: map[string]int64{"201": 2}},
		},
	}
	printReport(result, config{mode: modeCheckout, baseURL: "http://localhost:8080"})
}
