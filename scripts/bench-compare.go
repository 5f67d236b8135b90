//go:build ignore

// Compares two `go test -bench` output files and fails on regressions.
// Usage: go run scripts/bench-compare.go [-threshold 0.20] current.txt baseline.txt
//
// Typical flow:
//
//	go test -bench . -benchmem ./internal/engine > baseline.txt   # on main
//	go test -bench . -benchmem ./internal/engine > current.txt    # on branch
//	go run scripts/bench-compare.go current.txt baseline.txt
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	threshold  = flag.Float64("threshold", 0.20, "Fractional ns/op increase treated as a regression")
	outputJSON = flag.Bool("json", false, "Emit the report as JSON")
	showAll    = flag.Bool("all", false, "List unchanged benchmarks too")
)

// improvedBelow marks runs noticeably faster than baseline.
const improvedBelow = -0.10

type sample struct {
	Name        string  `json:"name"`
	NsPerOp     float64 `json:"nsPerOp"`
	BytesPerOp  int     `json:"bytesPerOp,omitempty"`
	AllocsPerOp int     `json:"allocsPerOp,omitempty"`
}

type delta struct {
	Name     string  `json:"name"`
	Current  float64 `json:"currentNsPerOp"`
	Baseline float64 `json:"baselineNsPerOp,omitempty"`
	Percent  float64 `json:"deltaPercent"`
	Verdict  string  `json:"verdict"`
}

type report struct {
	Compared    int     `json:"compared"`
	Regressions int     `json:"regressions"`
	Improved    int     `json:"improved"`
	Added       int     `json:"added"`
	Removed     int     `json:"removed"`
	Deltas      []delta `json:"deltas"`
}

// Matches "BenchmarkName-8  1000  1234 ns/op  56 B/op  7 allocs/op".
// Trailing custom metrics like docs/s are tolerated and ignored.
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] current.txt baseline.txt\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	current, err := readSamples(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := readSamples(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := buildReport(current, baseline)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if rep.Regressions > 0 {
		os.Exit(1)
	}
}

func readSamples(path string) (map[string]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples := make(map[string]sample)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		s := sample{Name: m[1]}
		s.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			s.BytesPerOp, _ = strconv.Atoi(m[4])
		}
		if m[5] != "" {
			s.AllocsPerOp, _ = strconv.Atoi(m[5])
		}
		samples[s.Name] = s
	}
	return samples, sc.Err()
}

func buildReport(current, baseline map[string]sample) report {
	var rep report

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			rep.Added++
			rep.Deltas = append(rep.Deltas, delta{Name: name, Current: curr.NsPerOp, Verdict: "new"})
			continue
		}

		rep.Compared++
		var pct float64
		if base.NsPerOp > 0 {
			pct = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}

		d := delta{Name: name, Current: curr.NsPerOp, Baseline: base.NsPerOp, Percent: pct * 100}
		switch {
		case pct > *threshold:
			d.Verdict = "regression"
			rep.Regressions++
		case pct < improvedBelow:
			d.Verdict = "improved"
			rep.Improved++
		default:
			d.Verdict = "ok"
		}
		if d.Verdict != "ok" || *showAll {
			rep.Deltas = append(rep.Deltas, d)
		}
	}

	for name := range baseline {
		if _, ok := current[name]; !ok {
			rep.Removed++
			if *showAll {
				rep.Deltas = append(rep.Deltas, delta{Name: name, Baseline: baseline[name].NsPerOp, Verdict: "removed"})
			}
		}
	}
	sort.Slice(rep.Deltas, func(i, j int) bool { return rep.Deltas[i].Name < rep.Deltas[j].Name })

	return rep
}

func printReport(rep report) {
	fmt.Printf("Compared %d benchmark(s) against baseline", rep.Compared)
	if rep.Added > 0 || rep.Removed > 0 {
		fmt.Printf(" (%d new, %d removed)", rep.Added, rep.Removed)
	}
	fmt.Println()

	for _, d := range rep.Deltas {
		switch d.Verdict {
		case "regression":
			fmt.Printf("  [REGRESS] %-55s %10.0f ns/op  was %.0f (%+.1f%%)\n", d.Name, d.Current, d.Baseline, d.Percent)
		case "improved":
			fmt.Printf("  [faster]  %-55s %10.0f ns/op  was %.0f (%+.1f%%)\n", d.Name, d.Current, d.Baseline, d.Percent)
		case "new":
			fmt.Printf("  [new]     %-55s %10.0f ns/op\n", d.Name, d.Current)
		case "removed":
			fmt.Printf("  [removed] %-55s %10s         was %.0f\n", d.Name, "-", d.Baseline)
		default:
			fmt.Printf("  [ok]      %-55s %10.0f ns/op  was %.0f (%+.1f%%)\n", d.Name, d.Current, d.Baseline, d.Percent)
		}
	}

	if rep.Regressions > 0 {
		fmt.Printf("\n%d benchmark(s) regressed by more than %.0f%%\n", rep.Regressions, *threshold*100)
	} else {
		fmt.Println("\nNo regressions detected")
	}
}
