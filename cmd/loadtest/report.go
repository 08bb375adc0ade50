package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"
)

// stockCheck сравнивает прирост резерва с числом успешных резервирований.
type stockCheck struct {
	ReservedBefore int64 `json:"reserved_before"`
	ReservedAfter  int64 `json:"reserved_after"`
	Expected       int64 `json:"expected"`
	Quantity       int64 `json:"quantity"`
	OK             bool  `json:"ok"`
}

func verifyStock(before, after stock, expected int64) *stockCheck {
	return &stockCheck{
		ReservedBefore: before.Reserved,
		ReservedAfter:  after.Reserved,
		Expected:       expected,
		Quantity:       after.Quantity,
		OK:             after.Reserved-before.Reserved == expected && after.Reserved <= after.Quantity,
	}
}

type report struct {
	Mode       loadMode              `json:"mode"`
	ProductID  string                `json:"product_id"`
	StartedAt  time.Time             `json:"started_at"`
	Seconds    float64               `json:"duration_seconds"`
	RPS        float64               `json:"rps"`
	Scenario   stepReport            `json:"scenario"`
	Steps      map[string]stepReport `json:"steps"`
	StockCheck *stockCheck           `json:"stock_check,omitempty"`
}

// failed — прогон считается проваленным при любом неуспешном сценарии или расхождении склада.
func (r report) failed() bool {
	return r.Scenario.Failed > 0 || (r.StockCheck != nil && !r.StockCheck.OK)
}

func buildReport(rec *recorder, cfg config, startedAt time.Time, elapsed time.Duration) (report, error) {
	steps, err := rec.steps()
	if err != nil {
		return report{}, err
	}
	out := report{
		Mode:      cfg.mode,
		ProductID: cfg.productID,
		StartedAt: startedAt.UTC(),
		Seconds:   elapsed.Seconds(),
		Scenario:  steps[scenarioStep],
		Steps:     steps,
	}
	delete(out.Steps, scenarioStep)
	if elapsed > 0 {
		out.RPS = float64(out.Scenario.Calls) / elapsed.Seconds()
	}
	return out, nil
}

func printReport(w io.Writer, r report) {
	verdict := "ok"
	if r.failed() {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "load test %s: mode=%s product=%s scenarios=%d failed=%d rps=%.1f in %.2fs\n",
		verdict, r.Mode, r.ProductID, r.Scenario.Calls, r.Scenario.Failed, r.RPS, r.Seconds)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "step\tcalls\tfailed\tavg ms\tp50 ms\tp95 ms\tp99 ms\tcodes")
	names := make([]string, 0, len(r.Steps)+1)
	for name := range r.Steps {
		names = append(names, name)
	}
	slices.Sort(names)
	rows := append([]string{scenarioStep}, names...)
	for _, name := range rows {
		s := r.Scenario
		if name != scenarioStep {
			s = r.Steps[name]
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%v\n",
			name, s.Calls, s.Failed, s.LatencyMs.Avg, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99, s.Codes)
	}
	_ = tw.Flush()

	if c := r.StockCheck; c != nil {
		state := "consistent"
		if !c.OK {
			state = "VIOLATED"
		}
		fmt.Fprintf(w, "stock %s: reserved %d -> %d (expected +%d), quantity %d\n",
			state, c.ReservedBefore, c.ReservedAfter, c.Expected, c.Quantity)
	}
}

// saveReport пишет отчёт JSON-ом. Относительный путь не должен выходить из рабочей директории.
func saveReport(path string, r report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("report path must name a file")
	}
	if !filepath.IsAbs(clean) && !filepath.IsLocal(clean) {
		return fmt.Errorf("report path escapes working directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
