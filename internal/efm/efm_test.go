package efm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
)

// testConfig returns a config whose command path and properties file exist.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	efmPath := filepath.Join(dir, "efm")
	if err := os.WriteFile(efmPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "efm.properties"), []byte("a=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.CommandPath = efmPath
	cfg.SudoPrefix = "sudo -u efm"
	cfg.ClusterName = "efm"
	cfg.PropertiesDir = dir
	return cfg
}

// =============================================================================
// Command rendering
// =============================================================================

func TestCommand_String(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "cluster_status_no_argument",
			cmd: Command{
				Sudo: []string{"sudo", "-u", "efm"}, Path: "/usr/edb/efm/bin/efm",
				Keyword: "cluster-status", Cluster: "efm",
			},
			want: "sudo -u efm /usr/edb/efm/bin/efm cluster-status efm ",
		},
		{
			name: "allow_node",
			cmd: Command{
				Sudo: []string{"sudo"}, Path: "/usr/edb/efm/bin/efm",
				Keyword: "allow-node", Cluster: "efm", Args: []string{"10.0.0.5"},
			},
			want: "sudo /usr/edb/efm/bin/efm allow-node efm 10.0.0.5",
		},
		{
			name: "set_priority_joined",
			cmd: Command{
				Sudo: []string{"sudo"}, Path: "/efm",
				Keyword: "set-priority", Cluster: "c1", Args: []string{"10.0.0.5", "3"},
			},
			want: "sudo /efm set-priority c1 10.0.0.5 3",
		},
		{
			name: "properties_reader",
			cmd:  Command{Path: "cat", Args: []string{"/etc/edb/efm.properties"}},
			want: "cat /etc/edb/efm.properties",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommand_Argv(t *testing.T) {
	cmd := Command{
		Sudo: []string{"sudo", "-u", "efm"}, Path: "/efm",
		Keyword: "promote", Cluster: "efm", Args: []string{"-switchover"},
	}
	want := []string{"sudo", "-u", "efm", "/efm", "promote", "efm", "-switchover"}
	if diff := cmp.Diff(want, cmd.Argv()); diff != "" {
		t.Errorf("Argv() mismatch (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Builder
// =============================================================================

func TestBuild_Operations(t *testing.T) {
	cfg := testConfig(t)
	b := NewBuilder(cfg)

	tests := []struct {
		op      Operation
		args    []string
		keyword string
		want    []string
	}{
		{OpClusterStatus, []string{"text"}, "cluster-status", nil},
		{OpClusterStatus, []string{"json"}, "cluster-status-json", nil},
		{OpAllowNode, []string{"10.0.0.5"}, "allow-node", []string{"10.0.0.5"}},
		{OpDisallowNode, []string{"10.0.0.6"}, "disallow-node", []string{"10.0.0.6"}},
		{OpFailover, nil, "promote", []string{}},
		{OpSwitchover, nil, "promote", []string{"-switchover"}},
		{OpResumeMonitoring, nil, "resume", []string{}},
		{OpSetPriority, []string{"10.0.0.5", "2"}, "set-priority", []string{"10.0.0.5", "2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.op)+"_"+tt.keyword, func(t *testing.T) {
			cmd, err := b.Build(tt.op, tt.args...)
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if cmd.Keyword != tt.keyword {
				t.Errorf("Keyword = %q, want %q", cmd.Keyword, tt.keyword)
			}
			if cmd.Cluster != "efm" || cmd.Path != cfg.CommandPath {
				t.Errorf("unexpected command %+v", cmd)
			}
			if diff := cmp.Diff(tt.want, cmd.Args, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_LegacyString(t *testing.T) {
	cfg := testConfig(t)
	cmd, err := NewBuilder(cfg).Build(OpClusterStatus, "text")
	if err != nil {
		t.Fatal(err)
	}
	want := "sudo -u efm " + cfg.CommandPath + " cluster-status efm "
	if got := cmd.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
		wantMsg string
	}{
		{"no_cluster", func(c *config.Config) { c.ClusterName = "" }, ErrConfiguration, "efm.cluster_name"},
		{"no_sudo", func(c *config.Config) { c.SudoPrefix = "" }, ErrConfiguration, "efm.edb_sudo"},
		{"blank_sudo", func(c *config.Config) { c.SudoPrefix = "   " }, ErrConfiguration, "efm.edb_sudo"},
		{"no_command", func(c *config.Config) { c.CommandPath = "" }, ErrConfiguration, "command_path"},
		{"missing_tool", func(c *config.Config) { c.CommandPath = "/nonexistent/efm" }, ErrUnavailableTool, "/nonexistent/efm command not available"},
		{"bad_cluster", func(c *config.Config) { c.ClusterName = "efm;reboot" }, ErrInvalidArgument, "cluster name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewBuilder(cfg).Build(OpFailover)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestBuild_ConfigurationBeforeTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.ClusterName = ""
	cfg.CommandPath = "/nonexistent/efm"
	if _, err := NewBuilder(cfg).Build(OpResumeMonitoring); !errors.Is(err, ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestBuild_InvalidArguments(t *testing.T) {
	b := NewBuilder(testConfig(t))

	tests := []struct {
		name string
		op   Operation
		args []string
	}{
		{"bad_mode", OpClusterStatus, []string{"xml"}},
		{"empty_mode", OpClusterStatus, []string{""}},
		{"missing_address", OpAllowNode, nil},
		{"extra_args", OpFailover, []string{"x"}},
		{"set_priority_one_arg", OpSetPriority, []string{"10.0.0.5"}},
		{"set_priority_three_args", OpSetPriority, []string{"10.0.0.5", "1", "2"}},
		{"injection_semicolon", OpAllowNode, []string{"10.0.0.5;id"}},
		{"injection_subshell", OpAllowNode, []string{"$(id)"}},
		{"whitespace", OpAllowNode, []string{"10.0.0.5 10.0.0.6"}},
		{"newline", OpDisallowNode, []string{"10.0.0.5\nid"}},
		{"empty_address", OpAllowNode, []string{""}},
		{"unknown_op", Operation("reboot"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Build(tt.op, tt.args...); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Build(%s, %q) error = %v, want ErrInvalidArgument", tt.op, tt.args, err)
			}
		})
	}
}

func TestBuild_AcceptsAddresses(t *testing.T) {
	b := NewBuilder(testConfig(t))
	for _, addr := range []string{"10.0.0.5", "db1.example.com", "fe80::1", "node_2"} {
		if _, err := b.Build(OpAllowNode, addr); err != nil {
			t.Errorf("Build(allow-node, %q) error: %v", addr, err)
		}
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestPropertiesFile(t *testing.T) {
	cfg := testConfig(t)
	b := NewBuilder(cfg)

	file, err := b.PropertiesFile()
	if err != nil {
		t.Fatalf("PropertiesFile() error: %v", err)
	}
	if want := filepath.Join(cfg.PropertiesDir, "efm.properties"); file != want {
		t.Errorf("PropertiesFile() = %q, want %q", file, want)
	}

	cmd, err := b.ListProperties()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cat", file}, cmd.Argv()); diff != "" {
		t.Errorf("Argv() mismatch (-want +got):\n%s", diff)
	}
	if len(cmd.Sudo) != 0 {
		t.Errorf("properties reader should not use sudo, got %q", cmd.Sudo)
	}
}

func TestPropertiesFile_Errors(t *testing.T) {
	t.Run("no_dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PropertiesDir = ""
		_, err := NewBuilder(cfg).PropertiesFile()
		if !errors.Is(err, ErrConfiguration) || !strings.Contains(err.Error(), "efm.properties_location is undefined") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ClusterName = "other"
		_, err := NewBuilder(cfg).Build(OpListProperties)
		if !errors.Is(err, ErrMissingFile) || !strings.Contains(err.Error(), "other.properties file not available") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestListProperties_RequiresSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{"no_cluster", func(c *config.Config) { c.ClusterName = "" }, "efm.cluster_name"},
		{"no_sudo", func(c *config.Config) { c.SudoPrefix = "" }, "efm.edb_sudo"},
		{"no_command", func(c *config.Config) { c.CommandPath = "" }, "command_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewBuilder(cfg).Build(OpListProperties)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Build(list-properties) error = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestPropertiesFilter(t *testing.T) {
	input := []string{"# comment", "foo=1", "", "bar=2"}
	var got []string
	for _, line := range input {
		if PropertiesFilter(line) {
			got = append(got, line)
		}
	}
	if diff := cmp.Diff([]string{"foo=1", "bar=2"}, got); diff != "" {
		t.Errorf("filtered mismatch (-want +got):\n%s", diff)
	}

	if !PropertiesFilter("  ") {
		t.Error("whitespace-only line should be kept")
	}
	if !PropertiesFilter("key=#value") {
		t.Error("inline '#' should be kept")
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestParseOutputMode(t *testing.T) {
	for _, s := range []string{"text", "json"} {
		if _, err := ParseOutputMode(s); err != nil {
			t.Errorf("ParseOutputMode(%q) error: %v", s, err)
		}
	}
	for _, s := range []string{"xml", "TEXT", ""} {
		if _, err := ParseOutputMode(s); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseOutputMode(%q) error = %v, want ErrInvalidArgument", s, err)
		}
	}
}

func TestLookup_AllOperations(t *testing.T) {
	for _, op := range Operations {
		s, err := Lookup(op)
		if err != nil {
			t.Errorf("Lookup(%s) error: %v", op, err)
		}
		if s.Streaming != (op == OpClusterStatus || op == OpListProperties) {
			t.Errorf("%s: Streaming = %v", op, s.Streaming)
		}
	}
	if s, _ := Lookup(OpClusterStatus); !s.IgnoreErrors {
		t.Error("cluster-status should ignore errors")
	}
	if s, _ := Lookup(OpListProperties); s.IgnoreErrors {
		t.Error("list-properties should surface errors")
	}
}
