package monitor

import "strings"

// QueryFields are the nvidia-smi --query-gpu properties requested on every poll.
var QueryFields = []string{
	"index",
	"name",
	"timestamp",
	"temperature.gpu",
	"utilization.gpu",
	"utilization.memory",
	"memory.total",
	"memory.free",
	"memory.used",
}

// QueryCommand is the remote command run on every poll. The output keeps the
// header row and units so the parser can map columns by name.
var QueryCommand = BuildQueryCommand(QueryFields)

// BuildQueryCommand returns the nvidia-smi invocation for the given fields.
func BuildQueryCommand(fields []string) string {
	return "nvidia-smi --query-gpu=" + strings.Join(fields, ",") + " --format=csv"
}
