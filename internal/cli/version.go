package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Set from main, which gets them through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

var (
	versionShort bool
	versionJSON  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit and build date of gpuview.

Builds made with plain 'go install' have no ldflags; the commit then comes
from the VCS stamp Go embeds in the binary, when there is one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentBuild()
		w := cmd.OutOrStdout()
		switch {
		case versionJSON:
			return writeBuildJSON(w, info)
		case versionShort:
			fmt.Fprintln(w, info.Version)
		default:
			writeBuildText(w, info)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")
	rootCmd.AddCommand(versionCmd)
}

// SetVersionInfo records the ldflags values. Called from main.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

func currentBuild() BuildInfo {
	info := BuildInfo{
		Version: version,
		Commit:  commit,
		Built:   date,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	if info.Commit == "none" || info.Commit == "" {
		if rev, ok := vcsRevision(); ok {
			info.Commit = rev
		}
	}
	return info
}

// vcsRevision reads the commit Go stamps into binaries built from a checkout.
func vcsRevision() (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	var rev string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "", false
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev, true
}

func writeBuildText(w io.Writer, info BuildInfo) {
	fmt.Fprintf(w, "gpuview %s\n", displayVersion(info.Version))
	fmt.Fprintf(w, "commit: %s\n", info.Commit)
	fmt.Fprintf(w, "built: %s\n", info.Built)
	fmt.Fprintf(w, "go: %s\n", info.Go)
	fmt.Fprintf(w, "os/arch: %s/%s\n", info.OS, info.Arch)
}

func writeBuildJSON(w io.Writer, info BuildInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// displayVersion adds a "v" to release versions. "dev" stays as is.
func displayVersion(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
