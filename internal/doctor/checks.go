// Package doctor diagnoses why gpuview can't watch a server: config, local
// SSH setup, and a real nvidia-smi query against every configured server.
package doctor

import (
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// CheckStatus is the outcome of one check. Higher is worse.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

var statusNames = [...]string{"pass", "warn", "fail"}

func (s CheckStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// CheckResult is what a check found.
type CheckResult struct {
	Name       string
	Category   string // CONFIG, SSH or SERVERS
	Status     CheckStatus
	Message    string
	Suggestion string
	Fixable    bool // --fix can repair it
}

func (r CheckResult) isIssue() bool {
	return r.Status != StatusPass
}

// Check is one diagnostic. Fix is only called when Run reported Fixable.
type Check interface {
	Name() string
	Category() string
	Run() CheckResult
	Fix() error
}

// maxParallel bounds RunAllParallel; server checks each hold an SSH session.
const maxParallel = 8

// RunAll runs checks one after another.
func RunAll(checks []Check) []CheckResult {
	return lo.Map(checks, func(c Check, _ int) CheckResult { return run(c) })
}

// RunAllParallel runs checks concurrently. Results keep check order.
func RunAllParallel(checks []Check) []CheckResult {
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = run(c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func run(c Check) CheckResult {
	r := c.Run()
	if r.Name == "" {
		r.Name = c.Name()
	}
	r.Category = c.Category()
	return r
}

// FixAll calls Fix for every fixable issue in results, which must line up
// with checks. It returns how many fixes worked and the first error.
func FixAll(checks []Check, results []CheckResult) (int, error) {
	fixed := 0
	var firstErr error
	for i, r := range results {
		if !r.Fixable || !r.isIssue() {
			continue
		}
		err := checks[i].Fix()
		switch {
		case err == nil:
			fixed++
		case firstErr == nil:
			firstErr = err
		}
	}
	return fixed, firstErr
}

// CountByStatus tallies results per status.
func CountByStatus(results []CheckResult) map[CheckStatus]int {
	return lo.CountValuesBy(results, func(r CheckResult) CheckStatus { return r.Status })
}

func HasFailures(results []CheckResult) bool {
	return lo.ContainsBy(results, func(r CheckResult) bool { return r.Status == StatusFail })
}

func HasIssues(results []CheckResult) bool {
	return lo.ContainsBy(results, CheckResult.isIssue)
}

// FixableCount counts the issues --fix could repair.
func FixableCount(results []CheckResult) int {
	return lo.CountBy(results, func(r CheckResult) bool { return r.Fixable && r.isIssue() })
}

// Summary is the one-line verdict under the report.
func Summary(results []CheckResult) string {
	n := lo.CountBy(results, CheckResult.isIssue)
	switch n {
	case 0:
		return "Everything looks good"
	case 1:
		return "1 issue found"
	default:
		return fmt.Sprintf("%d issues found", n)
	}
}

// pluralize returns the plural suffix for a count.
func pluralize(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
