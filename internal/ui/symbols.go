package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess = "✓" // Command succeeded
	SymbolFail    = "✗" // Poll or command failed
	SymbolWarning = "!" // Check passed with a caveat
	SymbolPending = "○" // Not polled yet
	SymbolFree    = "●" // At least one free GPU
	SymbolBusy    = "◉" // Every GPU busy
)
