package parsers

import (
	"encoding/csv"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
)

// field is a canonical column of the nvidia-smi query output.
type field string

const (
	fieldIndex       field = "index"
	fieldName        field = "name"
	fieldTimestamp   field = "timestamp"
	fieldTemperature field = "temperature.gpu"
	fieldGPUUtil     field = "utilization.gpu"
	fieldMemUtil     field = "utilization.memory"
	fieldMemTotal    field = "memory.total"
	fieldMemUsed     field = "memory.used"
	fieldMemFree     field = "memory.free"
)

// headerAliases maps normalized header spellings seen across nvidia-smi
// versions and wrapper scripts to canonical fields.
var headerAliases = map[string]field{
	"index":              fieldIndex,
	"gpu_index":          fieldIndex,
	"name":               fieldName,
	"gpu_name":           fieldName,
	"gpu name":           fieldName,
	"timestamp":          fieldTimestamp,
	"temperature.gpu":    fieldTemperature,
	"temperature":        fieldTemperature,
	"temp":               fieldTemperature,
	"utilization.gpu":    fieldGPUUtil,
	"gpu_util":           fieldGPUUtil,
	"gpu utilization":    fieldGPUUtil,
	"utilization.memory": fieldMemUtil,
	"memory_util":        fieldMemUtil,
	"mem_util":           fieldMemUtil,
	"memory.total":       fieldMemTotal,
	"memory_total":       fieldMemTotal,
	"memory.used":        fieldMemUsed,
	"memory_used":        fieldMemUsed,
	"memory.free":        fieldMemFree,
	"memory_free":        fieldMemFree,
}

// requiredFields must be present after normalization. Memory is checked separately:
// either utilization.memory or both memory.used and memory.total.
var requiredFields = []field{fieldName, fieldTimestamp, fieldTemperature, fieldGPUUtil}

// DefaultMemoryUnit is used when neither the header nor the values carry a unit.
const DefaultMemoryUnit = "MiB"

var (
	headerUnitPattern = regexp.MustCompile(`\s*\[([^\]]*)\]\s*$`)
	numberPattern     = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)`)
)

// layout records where each canonical field sits in a row and the memory
// unit announced by the header, if any.
type layout struct {
	index   map[field]int
	memUnit string
}

func (l layout) has(f field) bool {
	_, ok := l.index[f]
	return ok
}

// NormalizeHeader trims a raw header cell, strips a trailing bracketed unit,
// and maps it to a canonical field name. Unknown headers come back with ok=false.
func NormalizeHeader(raw string) (name string, unit string, ok bool) {
	h := strings.TrimSpace(raw)
	if m := headerUnitPattern.FindStringSubmatch(h); m != nil {
		unit = strings.TrimSpace(m[1])
		h = strings.TrimSpace(h[:len(h)-len(m[0])])
	}
	h = strings.ToLower(h)
	f, ok := headerAliases[h]
	if !ok {
		return h, unit, false
	}
	return string(f), unit, true
}

// ParseNvidiaSMI parses the CSV output of
//
//	nvidia-smi --query-gpu=index,name,timestamp,temperature.gpu,utilization.gpu,utilization.memory,memory.total,memory.free,memory.used --format=csv
//
// into a snapshot. Header variants with unit suffixes ("utilization.gpu [%]")
// and values with unit suffixes ("2048 MiB") are both accepted.
//
// Memory utilization is recomputed as used/total*100 whenever used and total
// are present, since nvidia-smi's utilization.memory reports bandwidth rather
// than occupancy.
//
// The returned snapshot has no FetchedAt; the caller stamps it.
func ParseNvidiaSMI(output string) (*monitor.Snapshot, error) {
	if strings.TrimSpace(output) == "" {
		return nil, errors.New(errors.ErrMalformed,
			"nvidia-smi returned no output",
			"Check that nvidia-smi is installed and on PATH for the remote user.")
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimSpace(output)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrMalformed,
			"nvidia-smi output is not valid CSV",
			"Run the query by hand on the host to see what it prints.")
	}
	if len(header) < 2 {
		return nil, errors.New(errors.ErrMalformed,
			fmt.Sprintf("nvidia-smi output is not CSV: %q", truncate(output, 120)),
			"The driver may have failed. Run nvidia-smi on the host to check.")
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrMalformed,
			"nvidia-smi output is not valid CSV",
			"Run the query by hand on the host to see what it prints.")
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrEmpty,
			"nvidia-smi reported no GPUs",
			"No devices were listed. Check the driver with nvidia-smi -L.")
	}

	snap := &monitor.Snapshot{Records: make([]monitor.GPURecord, 0, len(rows))}
	for i, row := range rows {
		rec, err := parseRow(row, cols, i)
		if err != nil {
			return nil, err
		}
		snap.Records = append(snap.Records, rec)
	}

	return snap, nil
}

// mapColumns normalizes the header and checks that every required field is present.
func mapColumns(header []string) (layout, error) {
	l := layout{index: make(map[field]int, len(header))}
	units := make(map[field]string, len(header))
	for i, raw := range header {
		name, unit, ok := NormalizeHeader(raw)
		if !ok {
			continue
		}
		f := field(name)
		if l.has(f) {
			continue
		}
		l.index[f] = i
		units[f] = unit
	}

	var missing []string
	for _, f := range requiredFields {
		if !l.has(f) {
			missing = append(missing, string(f))
		}
	}
	hasUsed, hasTotal := l.has(fieldMemUsed), l.has(fieldMemTotal)
	if !l.has(fieldMemUtil) && !(hasUsed && hasTotal) {
		switch {
		case hasUsed:
			missing = append(missing, string(fieldMemTotal))
		case hasTotal:
			missing = append(missing, string(fieldMemUsed))
		default:
			missing = append(missing, string(fieldMemUtil)+" or "+string(fieldMemUsed)+"/"+string(fieldMemTotal))
		}
	}
	if len(missing) > 0 {
		return layout{}, errors.New(errors.ErrSchema,
			"nvidia-smi output is missing columns: "+strings.Join(missing, ", "),
			"The query command or nvidia-smi version doesn't match what gpuview expects.")
	}

	l.memUnit = units[fieldMemUsed]
	if l.memUnit == "" {
		l.memUnit = units[fieldMemTotal]
	}
	return l, nil
}

// parseRow converts one CSV row into a record. Row is the zero-based data row
// number, used in error messages.
func parseRow(cells []string, l layout, row int) (monitor.GPURecord, error) {
	cell := func(f field) string {
		i, ok := l.index[f]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}
	number := func(f field) (float64, string, error) {
		v, unit, err := parseNumber(cell(f))
		if err != nil {
			return 0, "", errors.WrapWithCode(err, errors.ErrMalformed,
				fmt.Sprintf("Bad %s value on GPU row %d", f, row),
				"")
		}
		return v, unit, nil
	}

	rec := monitor.GPURecord{
		Index:     row,
		Name:      cell(fieldName),
		Timestamp: cell(fieldTimestamp),
	}
	if l.has(fieldIndex) {
		idx, _, err := number(fieldIndex)
		if err != nil {
			return rec, err
		}
		rec.Index = int(idx)
	}

	var err error
	if rec.Temperature, _, err = number(fieldTemperature); err != nil {
		return rec, err
	}
	if rec.GPUUtil, _, err = number(fieldGPUUtil); err != nil {
		return rec, err
	}

	if l.has(fieldMemUsed) && l.has(fieldMemTotal) {
		used, usedUnit, err := number(fieldMemUsed)
		if err != nil {
			return rec, err
		}
		total, totalUnit, err := number(fieldMemTotal)
		if err != nil {
			return rec, err
		}
		rec.MemoryUsed = int64(math.Round(used))
		rec.MemoryTotal = int64(math.Round(total))
		rec.MemoryUnit = firstNonEmpty(l.memUnit, usedUnit, totalUnit, DefaultMemoryUnit)
		rec.Memory = monitor.MemoryDisplay(rec.MemoryUsed, rec.MemoryTotal, rec.MemoryUnit)
		if rec.MemoryTotal > 0 {
			rec.MemoryUtil = math.Round(used/total*100*100) / 100
		}
		return rec, nil
	}

	if rec.MemoryUtil, _, err = number(fieldMemUtil); err != nil {
		return rec, err
	}
	return rec, nil
}

// parseNumber reads the leading number of a cell and returns whatever follows
// it as the unit ("2048 MiB" -> 2048, "MiB"). Not-available markers read as zero.
func parseNumber(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "[N/A]", "N/A", "[NOT SUPPORTED]":
		return 0, "", nil
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, "", fmt.Errorf("not a number: %q", s)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, "", err
	}
	unit := strings.TrimSpace(s[len(m):])
	if unit == "%" {
		unit = ""
	}
	return v, unit, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
