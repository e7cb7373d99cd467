// Package ui provides the plain-terminal pieces of gpuview's CLI output.
//
// The live dashboard lives in internal/dashboard. This package covers the
// one-shot commands: status symbols, server and status tables, and the
// interactive ~/.ssh/config alias picker used by 'gpuview server add'.
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - free GPUs, successful polls
//	ColorError     (red)    - failed polls
//	ColorWarning   (yellow) - busy GPUs
//	ColorMuted     (gray)   - secondary details
package ui
