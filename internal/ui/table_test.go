package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/table"
	"github.com/stretchr/testify/assert"
)

func TestNewTable(t *testing.T) {
	columns := []TableColumn{
		{Title: "Name", Width: 20},
		{Title: "Host", Width: 20},
	}
	rows := []table.Row{
		{"gpu-a", "10.0.0.1"},
		{"gpu-b", "lab-b"},
	}

	view := NewTable(columns, rows).View()

	assert.Contains(t, view, "Name")
	assert.Contains(t, view, "Host")
	assert.Contains(t, view, "gpu-a")
	assert.Contains(t, view, "lab-b")
}

func TestRenderSimpleTable(t *testing.T) {
	columns := []TableColumn{
		{Title: "Server", Width: 15},
		{Title: "Interval", Width: 10},
	}
	rows := [][]string{
		{"gpu-a", "10s"},
		{"gpu-b", "1m0s"},
	}

	output := RenderSimpleTable(columns, rows)

	assert.Contains(t, output, "Server")
	assert.Contains(t, output, "Interval")
	assert.Contains(t, output, "gpu-a")
	assert.Contains(t, output, "1m0s")
}

func TestRenderSimpleTable_EmptyRows(t *testing.T) {
	output := RenderSimpleTable([]TableColumn{{Title: "Server", Width: 20}}, nil)
	assert.Empty(t, output)
}

func TestRenderStatusTable(t *testing.T) {
	rows := []StatusTableRow{
		{State: StateFree, Server: "gpu-a", Address: "10.0.0.1", GPUs: "2/4 free", Detail: "avg 12%"},
		{State: StateBusy, Server: "gpu-b", Address: "lab-b:2222", GPUs: "0/8 free", Detail: "avg 97%"},
		{State: StateError, Server: "gpu-c", Address: "lab-c", Detail: "Timed out"},
		{State: StateIdle, Server: "gpu-d", Address: "lab-d"},
	}

	output := RenderStatusTable(rows)

	assert.Contains(t, output, "SERVER")
	assert.Contains(t, output, "DETAIL")
	for _, row := range rows {
		assert.Contains(t, output, row.Server)
		assert.Contains(t, output, row.Address)
	}
	assert.Contains(t, output, SymbolFree)
	assert.Contains(t, output, SymbolBusy)
	assert.Contains(t, output, SymbolFail)
	assert.Contains(t, output, SymbolPending)
	assert.Contains(t, output, "Timed out")
	assert.Contains(t, output, "2/4 free")
}

func TestRenderStatusTable_Empty(t *testing.T) {
	assert.Equal(t, "No servers configured", RenderStatusTable(nil))
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		input    string
		width    int
		expected string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 3, "abcdef"},
		{"", 2, "  "},
		{"✓", 3, "✓  "},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, padRight(tt.input, tt.width))
	}
}

func TestRenderDoctorTable(t *testing.T) {
	assert.Equal(t, "No checks to display", RenderDoctorTable(nil))

	rows := []DoctorCheckRow{
		{Status: "pass", Category: "CONFIG", Message: "Schema valid"},
		{Status: "warn", Category: "SSH", Message: "SSH agent not running", Suggestion: "eval $(ssh-agent)"},
		{Status: "fail", Category: "CONFIG", Message: "No servers configured", Suggestion: "gpuview server add"},
		{Status: "pass", Category: "SERVERS", Message: "lab-a: 2 GPUs", Suggestion: "hidden"},
	}

	output := RenderDoctorTable(rows)

	configAt := strings.Index(output, "CONFIG")
	sshAt := strings.Index(output, "SSH")
	serversAt := strings.Index(output, "SERVERS")
	assert.True(t, configAt < sshAt && sshAt < serversAt, "categories keep first-seen order")
	assert.Less(t, strings.Index(output, "No servers configured"), sshAt, "rows are grouped under their category")
	assert.Contains(t, output, "eval $(ssh-agent)")
	assert.Contains(t, output, "gpuview server add")
	assert.NotContains(t, output, "hidden", "passing rows show no suggestion")
}
