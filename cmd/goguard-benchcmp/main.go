// Command goguard-benchcmp compares two `go test -bench` outputs and fails
// when a tracked hot-path benchmark regressed past the threshold.
//
//	go test -run '^$' -bench . -count 5 ./ > new.txt
//	goguard-benchcmp -baseline old.txt -candidate new.txt -threshold 0.25
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultThreshold = 0.30

// trackedMetrics lists the per-request paths of the engine. Login is bounded
// by argon2 cost and is not tracked.
var trackedMetrics = map[string][]string{
	"BenchmarkAuthenticate":                  {"ns/op", "allocs/op"},
	"BenchmarkTrackActivity":                 {"ns/op", "allocs/op"},
	"BenchmarkRefresh":                       {"ns/op"},
	"BenchmarkMetricsIncMixedParallel":       {"ns/op"},
	"BenchmarkMetricsObserveLatencyParallel": {"ns/op"},
}

type sampleSet map[string]map[string][]float64

type row struct {
	benchmark string
	metric    string
	base      float64
	candidate float64
	delta     float64
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
	)
	flag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	flag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	flag.Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" || threshold < 0 {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required; -threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseFile(baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	rows, failures := compare(baseline, candidate, threshold)
	printRows(os.Stdout, rows)
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

func parseFile(path string) (sampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

// parse reads benchmark lines of the form
// "BenchmarkX-8  1000  1234 ns/op  56 B/op  2 allocs/op".
func parse(r io.Reader) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := normalizeName(fields[0])
		if _, ok := trackedMetrics[name]; !ok {
			continue
		}
		if samples[name] == nil {
			samples[name] = map[string][]float64{}
		}
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], v)
		}
	}
	return samples, scanner.Err()
}

// compare returns one row per tracked metric, sorted by name, and the
// failures for missing samples or regressions beyond threshold.
func compare(baseline, candidate sampleSet, threshold float64) ([]row, []string) {
	names := make([]string, 0, len(trackedMetrics))
	for name := range trackedMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		rows     []row
		failures []string
	)
	for _, name := range names {
		for _, metric := range trackedMetrics[name] {
			b, c := baseline[name][metric], candidate[name][metric]
			if len(b) == 0 || len(c) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, metric))
				continue
			}
			r := row{benchmark: name, metric: metric, base: median(b), candidate: median(c)}
			if r.base <= 0 {
				// allocs/op of zero stays fine as long as the candidate is zero too.
				if r.candidate > 0 {
					failures = append(failures, fmt.Sprintf("%s %s went from 0 to %.0f", name, metric, r.candidate))
				}
				rows = append(rows, r)
				continue
			}
			r.delta = (r.candidate - r.base) / r.base
			if r.delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, metric, r.delta*100, threshold*100))
			}
			rows = append(rows, r)
		}
	}
	return rows, failures
}

func printRows(w io.Writer, rows []row) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BENCHMARK\tMETRIC\tBASELINE\tCANDIDATE\tDELTA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+0.2f%%\n", r.benchmark, r.metric, r.base, r.candidate, r.delta*100)
	}
	_ = tw.Flush()
}

func normalizeName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
