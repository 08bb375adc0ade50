// Command loadtest нагружает складские эндпоинты shop-service и проверяет,
// что резерв под конкуренцией не разошёлся с числом успешных резервирований.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type loadMode string

const (
	modeReserve        loadMode = "reserve"
	modeRestockReserve loadMode = "restock-reserve"
	modeAvailable      loadMode = "available"
)

var modes = []loadMode{modeReserve, modeRestockReserve, modeAvailable}

const codeTransportError = "transport_error"

type config struct {
	addr        string
	mode        loadMode
	productID   string
	quantity    int64
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	rps         float64
	output      string
}

// more сообщает, нужно ли запускать сценарий номер i. В режиме по времени
// -total, если задан явно, ограничивает число сценариев сверху.
func (c config) more(i int, expired bool) bool {
	if c.duration <= 0 {
		return i < c.total
	}
	if c.totalSet && i >= c.total {
		return false
	}
	return !expired
}

func (c config) validate() error {
	switch {
	case c.duration < 0:
		return errors.New("duration must not be negative")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be positive without -duration")
	case c.totalSet && c.total <= 0:
		return errors.New("total must be positive")
	case c.concurrency <= 0:
		return errors.New("concurrency must be positive")
	case c.timeout <= 0:
		return errors.New("timeout must be positive")
	case c.rps < 0:
		return errors.New("rps must not be negative")
	case c.quantity <= 0:
		return errors.New("quantity must be positive")
	case c.productID == "":
		return errors.New("product is required")
	}
	if _, err := url.ParseRequestURI(c.addr); err != nil {
		return fmt.Errorf("invalid addr: %w", err)
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	for _, m := range modes {
		if m == mode {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported mode %q", value)
}

func parseFlags(args []string) (config, error) {
	var (
		cfg  config
		mode string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "shop-service base URL")
	fs.StringVar(&mode, "mode", string(modeReserve), "reserve | restock-reserve | available")
	fs.StringVar(&cfg.productID, "product", "prod-mouse", "product under contention")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per reserve or restock call")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration an upper bound when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Float64Var(&cfg.rps, "rps", 0, "scenario rate limit across workers, 0 = unlimited")
	fs.StringVar(&cfg.output, "output", "", "write JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		cfg.totalSet = cfg.totalSet || f.Name == "total"
	})

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return config{}, err
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	result, err := run(context.Background(), newShopClient(cfg), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result)
	if cfg.output != "" {
		if err := saveReport(cfg.output, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "save report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.failed() {
		os.Exit(1)
	}
}

// run гоняет сценарии и, для режимов с резервом, сверяет резерв до и после.
func run(ctx context.Context, client *shopClient, cfg config) (report, error) {
	checkStock := cfg.mode != modeAvailable
	var before stock
	if checkStock {
		var err error
		if before, err = client.stock(ctx, cfg.productID); err != nil {
			return report{}, fmt.Errorf("read initial stock: %w", err)
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), 1)
	}

	// deadline останавливает только выдачу новых сценариев, запущенные доживают.
	deadline := ctx
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	rec := newRecorder()
	startedAt := time.Now()

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; cfg.more(i, deadline.Err() != nil); i++ {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			runScenario(ctx, client, cfg, rec)
			return nil
		})
	}
	_ = g.Wait()

	result, err := buildReport(rec, cfg, startedAt, time.Since(startedAt))
	if err != nil {
		return report{}, err
	}
	if checkStock {
		after, err := client.stock(ctx, cfg.productID)
		if err != nil {
			return result, fmt.Errorf("read final stock: %w", err)
		}
		reserved := result.Steps["Reserve"].Codes[strconv.Itoa(http.StatusNoContent)]
		result.StockCheck = verifyStock(before, after, reserved*cfg.quantity)
	}
	return result, nil
}

// runScenario выполняет один сценарий. Отказ резерва из-за нехватки остатка
// (409) считается штатным исходом под конкуренцией, а не ошибкой.
func runScenario(ctx context.Context, client *shopClient, cfg config, rec *recorder) {
	began := time.Now()
	ok, code := true, strconv.Itoa(http.StatusOK)
	defer func() {
		rec.observe(scenarioStep, time.Since(began), code, ok)
	}()

	step := func(name string, call func() (int, error), accept ...int) bool {
		start := time.Now()
		status, err := call()
		stepCode, stepOK := classify(status, err, accept...)
		rec.observe(name, time.Since(start), stepCode, stepOK)
		if !stepOK {
			ok, code = false, stepCode
		}
		return stepOK
	}

	switch cfg.mode {
	case modeAvailable:
		step("GetAvailable", func() (int, error) { return client.available(ctx, cfg.productID) })
	case modeRestockReserve:
		if !step("Restock", func() (int, error) { return client.restock(ctx, cfg.productID, cfg.quantity) }) {
			return
		}
		fallthrough
	case modeReserve:
		step("Reserve", func() (int, error) { return client.reserve(ctx, cfg.productID, cfg.quantity) }, http.StatusConflict)
	}
}

func classify(status int, err error, accept ...int) (string, bool) {
	if err != nil {
		return codeTransportError, false
	}
	code := strconv.Itoa(status)
	if status < 300 {
		return code, true
	}
	for _, a := range accept {
		if status == a {
			return code, true
		}
	}
	return code, false
}
