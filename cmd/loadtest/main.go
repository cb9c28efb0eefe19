package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"

	methodSetup    = "CreateProduct"
	methodAddItem  = "AddCartItem"
	methodCheckout = "PlaceOrder"
	methodVerify   = "GetProduct"
	scenarioName   = "scenario"
)

// config задаёт сценарий: users покупателей одновременно оформляют по qty
// единиц одного товара с остатком stock.
type config struct {
	addr        string
	users       int
	stock       int64
	qty         int64
	concurrency int
	timeout     time.Duration
	sku         string
	priceMinor  int64
	userTag     string
	adminUser   string
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

// stockReport сверяет итог гонки с остатком: продано не больше, чем было.
type stockReport struct {
	ProductID    string `json:"product_id"`
	InitialStock int64  `json:"initial_stock"`
	Remaining    int64  `json:"remaining"`
	Placed       int64  `json:"placed_orders"`
	Conflicts    int64  `json:"stock_conflicts"`
	SoldUnits    int64  `json:"sold_units"`
	Oversold     bool   `json:"oversold"`
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
	Stock             stockReport             `json:"stock"`
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

// record учитывает вызов. Успешность задаёт вызывающий: 409 stock_conflict
// при оформлении считается ожидаемым исходом гонки.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[scenarioName]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var timeoutValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "stockcart HTTP API base URL")
	fs.IntVar(&cfg.users, "users", 200, "number of concurrent buyers racing for the same product")
	fs.Int64Var(&cfg.stock, "stock", 50, "initial stock of the contended product")
	fs.Int64Var(&cfg.qty, "qty", 1, "units each buyer puts into the cart")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "max in-flight requests")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&cfg.sku, "sku", "sku-load", "product id prefix; run id is appended")
	fs.Int64Var(&cfg.priceMinor, "price-minor", 1000, "product price in minor units")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.adminUser, "admin-user", "loadtest-admin", "user id used for catalog setup")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.users <= 0:
		return cfg, errors.New("users must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.priceMinor < 0:
		return cfg, errors.New("price-minor must be >= 0")
	case strings.TrimSpace(cfg.sku) == "":
		return cfg, errors.New("sku is required")
	case strings.TrimSpace(cfg.userTag) == "":
		return cfg, errors.New("user-tag is required")
	case strings.TrimSpace(cfg.adminUser) == "":
		return cfg, errors.New("admin-user is required")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, &http.Client{}, fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid()))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Stock.Oversold {
		os.Exit(1)
	}
}

// driver выполняет HTTP-вызовы к API и пишет их в collector.
type driver struct {
	client *http.Client
	cfg    config
	col    *collector
}

type apiError struct {
	Error string `json:"error"`
}

type productBody struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

// run создаёт товар с остатком stock, наполняет корзины и одновременно
// оформляет заказы, затем сверяет проданное с остатком.
func run(ctx context.Context, cfg config, client *http.Client, runID string) (report, error) {
	d := &driver{client: client, cfg: cfg, col: newCollector()}
	productID := fmt.Sprintf("%s-%s", cfg.sku, runID)

	if err := d.createProduct(ctx, productID); err != nil {
		return report{}, fmt.Errorf("setup product: %w", err)
	}

	users := make([]string, cfg.users)
	for i := range users {
		users[i] = fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, i)
	}

	fill, fillCtx := errgroup.WithContext(ctx)
	fill.SetLimit(cfg.concurrency)
	for _, userID := range users {
		fill.Go(func() error {
			return d.addItem(fillCtx, userID, productID)
		})
	}
	if err := fill.Wait(); err != nil {
		return report{}, fmt.Errorf("fill carts: %w", err)
	}

	startedAt := time.Now()
	var (
		mu        sync.Mutex
		placed    int64
		conflicts int64
	)
	race := new(errgroup.Group)
	race.SetLimit(cfg.concurrency)
	for i, userID := range users {
		key := fmt.Sprintf("lt-place-%s-%d", runID, i)
		race.Go(func() error {
			outcome := d.placeOrder(ctx, userID, key)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomePlaced:
				placed++
			case outcomeConflict:
				conflicts++
			}
			return nil
		})
	}
	_ = race.Wait()
	duration := time.Since(startedAt)

	remaining, err := d.productStock(ctx, productID)
	if err != nil {
		return report{}, fmt.Errorf("verify stock: %w", err)
	}

	result := d.col.buildReport(startedAt, duration)
	result.Stock = stockReport{
		ProductID:    productID,
		InitialStock: cfg.stock,
		Remaining:    remaining,
		Placed:       placed,
		Conflicts:    conflicts,
		SoldUnits:    placed * cfg.qty,
	}
	result.Stock.Oversold = remaining < 0 ||
		result.Stock.SoldUnits > cfg.stock ||
		result.Stock.SoldUnits+remaining != cfg.stock
	return result, nil
}

type checkoutOutcome int

const (
	outcomeFailed checkoutOutcome = iota
	outcomePlaced
	outcomeConflict
)

func (d *driver) placeOrder(ctx context.Context, userID, key string) checkoutOutcome {
	start := time.Now()
	status, code, err := d.call(ctx, http.MethodPost, "/api/v1/orders", userID, false, key, nil, nil)
	latency := time.Since(start)

	outcome := outcomeFailed
	switch {
	case err != nil:
		code = "transport_error"
	case status == http.StatusCreated:
		outcome = outcomePlaced
		code = "placed"
	case status == http.StatusConflict && code == "stock_conflict":
		outcome = outcomeConflict
	}

	ok := outcome != outcomeFailed
	d.col.record(methodCheckout, latency, code, ok)
	d.col.record(scenarioName, latency, code, ok)
	return outcome
}

func (d *driver) createProduct(ctx context.Context, productID string) error {
	start := time.Now()
	status, code, err := d.call(ctx, http.MethodPost, "/api/v1/products", d.cfg.adminUser, true, "", map[string]any{
		"id":          productID,
		"name":        "Load test product " + productID,
		"price_minor": d.cfg.priceMinor,
		"quantity":    d.cfg.stock,
	}, nil)
	d.col.record(methodSetup, time.Since(start), statusLabel(status, code, err), err == nil && status == http.StatusCreated)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("unexpected status %d (%s)", status, code)
	}
	return nil
}

func (d *driver) addItem(ctx context.Context, userID, productID string) error {
	start := time.Now()
	status, code, err := d.call(ctx, http.MethodPost, "/api/v1/cart/items", userID, false, "", map[string]any{
		"product_id": productID,
		"quantity":   d.cfg.qty,
	}, nil)
	d.col.record(methodAddItem, time.Since(start), statusLabel(status, code, err), err == nil && status == http.StatusOK)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("add item for %s: unexpected status %d (%s)", userID, status, code)
	}
	return nil
}

func (d *driver) productStock(ctx context.Context, productID string) (int64, error) {
	var product productBody
	start := time.Now()
	status, code, err := d.call(ctx, http.MethodGet, "/api/v1/products/"+productID, "", false, "", nil, &product)
	d.col.record(methodVerify, time.Since(start), statusLabel(status, code, err), err == nil && status == http.StatusOK)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d (%s)", status, code)
	}
	return product.Quantity, nil
}

// call выполняет запрос и возвращает HTTP-статус и код ошибки API из тела.
func (d *driver) call(ctx context.Context, method, path, userID string, admin bool, idempotencyKey string, body, out any) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.cfg.addr+path, reader)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if admin {
		req.Header.Set(headerUserRole, "ADMIN")
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		return resp.StatusCode, apiErr.Error, nil
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}

func statusLabel(status int, code string, err error) string {
	switch {
	case err != nil:
		return "transport_error"
	case code != "":
		return code
	default:
		return fmt.Sprintf("%d", status)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "users=%d qty=%d stock=%d total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.users,
		cfg.qty,
		cfg.stock,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "checkout latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(w, "stock: product=%s placed=%d conflicts=%d sold=%d remaining=%d oversold=%t\n",
		result.Stock.ProductID,
		result.Stock.Placed,
		result.Stock.Conflicts,
		result.Stock.SoldUnits,
		result.Stock.Remaining,
		result.Stock.Oversold,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioName {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
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
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
