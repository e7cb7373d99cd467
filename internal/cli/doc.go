// Package cli implements the gpuview command-line interface.
//
// Each Cobra command is a thin shell over a run function that takes its
// options and an output writer, so tests can drive commands without a
// terminal. The commands:
//
//	gpuview watch           - Live dashboard (or plain log lines) for every server
//	gpuview status          - Poll every server once and print a table
//	gpuview remind          - Choose when to be reminded about free GPUs
//	gpuview notify test     - Send a test alert through the configured channel
//	gpuview server list     - Show configured servers
//	gpuview server add      - Add a server (interactive or with flags)
//	gpuview server import   - Import a legacy server_info.json list
//	gpuview server remove   - Stop watching a server
//	gpuview doctor          - Diagnose config, SSH and per-server problems
//	gpuview version         - Print build information
//
// Config is found via --config, ./gpuview.yaml, then
// ~/.config/gpuview/config.yaml.
package cli
