package parsers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// Output of the default query with --format=csv (units in headers and values).
const nvidiaSMIWithUnits = `index, name, timestamp, temperature.gpu, utilization.gpu [%], utilization.memory [%], memory.total [MiB], memory.free [MiB], memory.used [MiB]
0, NVIDIA TITAN RTX, 2025/02/28 07:21:43.123, 42, 0 %, 0 %, 24576 MiB, 24576 MiB, 0 MiB
1, NVIDIA TITAN RTX, 2025/02/28 07:21:43.125, 65, 97 %, 41 %, 24576 MiB, 4096 MiB, 20480 MiB
`

func TestParseNvidiaSMI_WithUnits(t *testing.T) {
	snap, err := ParseNvidiaSMI(nvidiaSMIWithUnits)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())

	first := snap.Records[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "NVIDIA TITAN RTX", first.Name)
	assert.Equal(t, "2025/02/28 07:21:43.123", first.Timestamp)
	assert.Equal(t, 42.0, first.Temperature)
	assert.Equal(t, 0.0, first.GPUUtil)
	assert.Equal(t, 0.0, first.MemoryUtil)
	assert.Equal(t, "0 MiB / 24576 MiB", first.Memory)

	second := snap.Records[1]
	assert.Equal(t, 97.0, second.GPUUtil)
	assert.Equal(t, int64(20480), second.MemoryUsed)
	assert.Equal(t, int64(24576), second.MemoryTotal)
	// Derived from used/total, not the bandwidth column.
	assert.Equal(t, 83.33, second.MemoryUtil)
	assert.Equal(t, "20480 MiB / 24576 MiB", second.Memory)

	assert.True(t, snap.FetchedAt.IsZero(), "parser must not stamp the time")
}

func TestParseNvidiaSMI_HeaderVariants(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{
			name: "gpu_name alias, no units",
			output: "gpu_name,timestamp,temperature.gpu,utilization.gpu,utilization.memory,memory.total,memory.free,memory.used\n" +
				"A100,2025/01/01 00:00:00.000,30,5,1,40960,30720,10240\n",
		},
		{
			name: "uppercase and padded headers",
			output: "  Name , Timestamp, Temperature.GPU, Utilization.GPU [%], Memory.Used [MiB], Memory.Total [MiB]\n" +
				"A100, 2025/01/01 00:00:00.000, 30, 5 %, 10240 MiB, 40960 MiB\n",
		},
		{
			name: "units only on values",
			output: "name,timestamp,temperature.gpu,utilization.gpu,memory.used,memory.total\n" +
				"A100,2025/01/01 00:00:00.000,30,5 %,10240 MiB,40960 MiB\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseNvidiaSMI(tt.output)
			require.NoError(t, err)
			require.Equal(t, 1, snap.Len())

			rec := snap.Records[0]
			assert.Equal(t, "A100", rec.Name)
			assert.Equal(t, 5.0, rec.GPUUtil)
			assert.Equal(t, 25.0, rec.MemoryUtil)
			assert.Equal(t, "10240 MiB / 40960 MiB", rec.Memory)
		})
	}
}

func TestParseNvidiaSMI_MemoryDisplayEveryRow(t *testing.T) {
	var b strings.Builder
	b.WriteString("name, timestamp, temperature.gpu, utilization.gpu [%], memory.total [MiB], memory.used [MiB]\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "GPU%d, 2025/01/01 00:00:00.000, 40, %d %%, 24576 MiB, %d MiB\n", i, i*10, i*1024)
	}

	snap, err := ParseNvidiaSMI(b.String())
	require.NoError(t, err)
	require.Equal(t, 8, snap.Len())

	for i, rec := range snap.Records {
		assert.Equal(t, fmt.Sprintf("%d MiB / 24576 MiB", i*1024), rec.Memory)
		assert.Equal(t, "MiB", rec.MemoryUnit)
	}
}

func TestParseNvidiaSMI_OtherUnit(t *testing.T) {
	output := "name,timestamp,temperature.gpu,utilization.gpu,memory.used [GiB],memory.total [GiB]\n" +
		"H100,2025/01/01 00:00:00.000,30,0,1,80\n"

	snap, err := ParseNvidiaSMI(output)
	require.NoError(t, err)
	assert.Equal(t, "1 GiB / 80 GiB", snap.Records[0].Memory)
	assert.Equal(t, 1.25, snap.Records[0].MemoryUtil)
}

func TestParseNvidiaSMI_DirectMemoryUtil(t *testing.T) {
	output := "name,timestamp,temperature.gpu,utilization.gpu [%],utilization.memory [%]\n" +
		"T4,2025/01/01 00:00:00.000,30,12 %,7 %\n"

	snap, err := ParseNvidiaSMI(output)
	require.NoError(t, err)

	rec := snap.Records[0]
	assert.Equal(t, 7.0, rec.MemoryUtil)
	assert.Empty(t, rec.Memory, "no display string without used/total")
	assert.Equal(t, 0, rec.Index, "index defaults to row position")
}

func TestParseNvidiaSMI_NotAvailable(t *testing.T) {
	output := "name,timestamp,temperature.gpu,utilization.gpu,memory.used,memory.total\n" +
		"Jetson,2025/01/01 00:00:00.000,[N/A],[N/A],0,0\n"

	snap, err := ParseNvidiaSMI(output)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.Records[0].GPUUtil)
	assert.Equal(t, 0.0, snap.Records[0].MemoryUtil, "zero total must not divide")
}

func TestParseNvidiaSMI_SchemaMismatch(t *testing.T) {
	full := []string{"name", "timestamp", "temperature.gpu", "utilization.gpu [%]", "memory.used [MiB]", "memory.total [MiB]"}
	values := []string{"A100", "2025/01/01 00:00:00.000", "30", "5 %", "1 MiB", "2 MiB"}

	drop := []struct {
		name    string
		columns []int
		missing string
	}{
		{name: "no name", columns: []int{0}, missing: "name"},
		{name: "no timestamp", columns: []int{1}, missing: "timestamp"},
		{name: "no temperature", columns: []int{2}, missing: "temperature.gpu"},
		{name: "no gpu util", columns: []int{3}, missing: "utilization.gpu"},
		{name: "no memory used", columns: []int{4}, missing: "memory.used"},
		{name: "no memory at all", columns: []int{4, 5}, missing: "utilization.memory"},
	}

	for _, tt := range drop {
		for _, reversed := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s reversed=%v", tt.name, reversed), func(t *testing.T) {
				var header, row []string
				for i := range full {
					if containsInt(tt.columns, i) {
						continue
					}
					header = append(header, full[i])
					row = append(row, values[i])
				}
				if reversed {
					reverse(header)
					reverse(row)
				}
				output := strings.Join(header, ", ") + "\n" + strings.Join(row, ", ") + "\n"

				_, err := ParseNvidiaSMI(output)
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrSchema), "got %v", err)
				assert.Contains(t, err.Error(), tt.missing)
			})
		}
	}
}

func TestParseNvidiaSMI_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantCode string
	}{
		{name: "empty", output: "", wantCode: errors.ErrMalformed},
		{name: "whitespace", output: "  \n\t", wantCode: errors.ErrMalformed},
		{name: "driver failure text", output: "NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver.", wantCode: errors.ErrMalformed},
		{
			name: "unbalanced quote",
			output: "name,timestamp,temperature.gpu,utilization.gpu,utilization.memory\n" +
				"\"A100,2025",
			wantCode: errors.ErrMalformed,
		},
		{
			name: "ragged row",
			output: "name,timestamp,temperature.gpu,utilization.gpu,utilization.memory\n" +
				"A100,2025/01/01,30\n",
			wantCode: errors.ErrMalformed,
		},
		{
			name: "non-numeric utilization",
			output: "name,timestamp,temperature.gpu,utilization.gpu,utilization.memory\n" +
				"A100,2025/01/01,30,busy,0\n",
			wantCode: errors.ErrMalformed,
		},
		{
			name:     "header only",
			output:   "name,timestamp,temperature.gpu,utilization.gpu,utilization.memory\n",
			wantCode: errors.ErrEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseNvidiaSMI(tt.output)
			require.Error(t, err)
			assert.Nil(t, snap, "no partial snapshot on failure")
			assert.Equal(t, tt.wantCode, errors.CodeOf(err), "got %v", err)
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantUnit string
		wantOK   bool
	}{
		{raw: "utilization.gpu [%]", wantName: "utilization.gpu", wantUnit: "%", wantOK: true},
		{raw: " memory.used [MiB] ", wantName: "memory.used", wantUnit: "MiB", wantOK: true},
		{raw: "gpu_name", wantName: "name", wantOK: true},
		{raw: "Name", wantName: "name", wantOK: true},
		{raw: "power.draw [W]", wantName: "power.draw", wantUnit: "W", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, unit, ok := NormalizeHeader(tt.raw)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantUnit, unit)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in       string
		want     float64
		wantUnit string
		wantErr  bool
	}{
		{in: "45", want: 45},
		{in: "45 %", want: 45},
		{in: "2048 MiB", want: 2048, wantUnit: "MiB"},
		{in: "185.50 W", want: 185.5, wantUnit: "W"},
		{in: "[N/A]", want: 0},
		{in: "", want: 0},
		{in: "busy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, unit, err := parseNumber(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantUnit, unit)
		})
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
