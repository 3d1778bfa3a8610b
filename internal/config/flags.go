package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// flagCategories groups flags for the usage output. Entries are long flag
// names; "config" is registered by the root command, not by BindFlags.
var flagCategories = []struct {
	title string
	names []string
}{
	{"EFM", []string{"config", "command-path", "sudo-prefix", "cluster-name", "properties-dir", "cat-path"}},
	{"Privilege", []string{"allowed-uids"}},
	{"Observability", []string{"metrics", "verbose", "log-format", "log-level", "dump-metrics"}},
	{"Watch", []string{"interval", "mode", "tui"}},
	{"Safety & Diagnostics", []string{"print-cmd", "skip-preflight"}},
}

// BindFlags registers all configuration flags on fs, writing into cfg.
// The current values of cfg become the flag defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// EFM
	fs.StringVar(&cfg.CommandPath, "command-path", cfg.CommandPath, "Absolute path to the efm binary")
	fs.StringVar(&cfg.SudoPrefix, "sudo-prefix", cfg.SudoPrefix, `Privilege elevation prefix (e.g. "sudo -u efm")`)
	fs.StringVar(&cfg.ClusterName, "cluster-name", cfg.ClusterName, "Name of the managed efm cluster")
	fs.StringVar(&cfg.PropertiesDir, "properties-dir", cfg.PropertiesDir, "Directory holding <cluster-name>.properties")
	fs.StringVar(&cfg.CatPath, "cat-path", cfg.CatPath, "Binary used to read the properties file")

	// Privilege
	fs.IntSliceVar(&cfg.AllowedUIDs, "allowed-uids", cfg.AllowedUIDs, "Additional UIDs treated as elevated callers")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (watch mode)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.DumpMetrics, "dump-metrics", cfg.DumpMetrics, "Write collected metrics to stderr on exit")

	// Watch
	fs.DurationVar(&cfg.WatchInterval, "interval", cfg.WatchInterval, "Polling interval for watch")
	fs.StringVar(&cfg.WatchMode, "mode", cfg.WatchMode, `cluster-status output mode for watch: "text" or "json"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live terminal dashboard in watch mode")

	// Safety & Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the efm command and exit without running it")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks in watch mode")
}

// Overlay applies every flag that was explicitly set on fs to dst.
// Used to give command-line flags precedence over a config file.
func Overlay(dst *Config, fs *pflag.FlagSet) error {
	tmp := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	BindFlags(tmp, dst)

	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if tmp.Lookup(f.Name) == nil {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			for _, v := range sv.GetSlice() {
				if err := tmp.Set(f.Name, v); err != nil {
					errs = append(errs, err)
				}
			}
			return
		}
		if err := tmp.Set(f.Name, f.Value.String()); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// PrintUsage writes the flags of fs grouped by category.
func PrintUsage(w io.Writer, fs *pflag.FlagSet) {
	for i, cat := range flagCategories {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", cat.title)
		printFlagCategory(w, fs, cat.names)
	}
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(w io.Writer, fs *pflag.FlagSet, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		flagName := "--" + f.Name
		if f.Shorthand != "" {
			flagName = "-" + f.Shorthand + ", " + flagName
		}
		fmt.Fprintf(w, "  %s %s\n    \t%s", flagName, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *pflag.Flag) string {
	switch f.Value.Type() {
	case "bool":
		return ""
	case "intSlice":
		return "uids"
	default:
		return strings.TrimSuffix(f.Value.Type(), "Var")
	}
}
