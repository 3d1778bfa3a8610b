// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
	"github.com/randomizedcoder/go-efm-ctl/internal/privilege"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// minFileDescriptors covers the metrics server, the child's pipes and logging.
const minFileDescriptors = 64

// RunAll executes all preflight checks against cfg.
func RunAll(cfg *config.Config, gate privilege.Gate) *Result {
	result := &Result{
		Checks: make([]Check, 0, 7),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkConfig(cfg))
	add(checkSettings(cfg))
	add(checkEFMBinary(cfg.CommandPath))
	add(checkSudo(cfg.SudoPrefix))
	add(checkPropertiesFile(cfg))
	add(checkPrivilege(gate))
	add(checkFileDescriptors(minFileDescriptors))

	return result
}

// checkConfig runs the config validator.
func checkConfig(cfg *config.Config) Check {
	if err := config.Validate(cfg); err != nil {
		return Check{
			Name:    "config",
			Passed:  false,
			Message: strings.ReplaceAll(err.Error(), "\n", "; "),
		}
	}
	return Check{Name: "config", Passed: true, Message: "valid"}
}

// checkSettings verifies the settings every efm operation needs.
func checkSettings(cfg *config.Config) Check {
	var missing []string
	if cfg.ClusterName == "" {
		missing = append(missing, "cluster_name")
	}
	if strings.TrimSpace(cfg.SudoPrefix) == "" {
		missing = append(missing, "sudo_prefix")
	}
	if cfg.CommandPath == "" {
		missing = append(missing, "command_path")
	}
	if len(missing) > 0 {
		return Check{
			Name:    "efm_settings",
			Passed:  false,
			Message: "undefined: " + strings.Join(missing, ", "),
		}
	}
	return Check{
		Name:    "efm_settings",
		Passed:  true,
		Message: fmt.Sprintf("cluster %q", cfg.ClusterName),
	}
}

// checkEFMBinary verifies the efm binary exists. A non-executable file is a
// warning since sudo may still be able to run it.
func checkEFMBinary(path string) Check {
	if path == "" {
		return Check{Name: "efm_binary", Passed: false, Message: "command_path is undefined"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "efm_binary",
			Passed:  false,
			Message: fmt.Sprintf("%s command not available", path),
		}
	}
	if info.IsDir() {
		return Check{
			Name:    "efm_binary",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", path),
		}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "efm_binary",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("found at %s (not executable by mode bits)", path),
		}
	}
	return Check{
		Name:    "efm_binary",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkSudo verifies the first word of the sudo prefix resolves on PATH.
func checkSudo(prefix string) Check {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return Check{Name: "sudo", Passed: false, Message: "sudo_prefix is undefined"}
	}

	path, err := exec.LookPath(fields[0])
	if err != nil {
		return Check{
			Name:    "sudo",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", fields[0], err),
		}
	}
	return Check{
		Name:    "sudo",
		Passed:  true,
		Message: fmt.Sprintf("%q via %s", prefix, path),
	}
}

// checkPropertiesFile is a warning only; it affects list-properties alone.
func checkPropertiesFile(cfg *config.Config) Check {
	file, err := efm.NewBuilder(cfg).PropertiesFile()
	if err != nil {
		return Check{
			Name:    "properties_file",
			Passed:  true,
			Warning: true,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "properties_file",
		Passed:  true,
		Message: file,
	}
}

// checkPrivilege verifies the caller passes the privilege gate.
func checkPrivilege(gate privilege.Gate) Check {
	if err := privilege.RequireElevated(gate); err != nil {
		return Check{
			Name:    "privilege",
			Passed:  false,
			Message: fmt.Sprintf("euid %d: %v", unix.Geteuid(), err),
		}
	}
	return Check{Name: "privilege", Passed: true, Message: "elevated"}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(required int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "config":
		return "correct the listed settings in the config file or flags"
	case "efm_settings":
		return "set --cluster-name and --sudo-prefix (or cluster_name / sudo_prefix in the config file)"
	case "efm_binary":
		return "install EDB Failover Manager or point --command-path at the efm binary"
	case "sudo":
		return "install sudo or change --sudo-prefix"
	case "privilege":
		return "run as root or add your UID to allowed_uids"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
