package efm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
)

// Command is a fully built efm invocation.
type Command struct {
	Sudo    []string
	Path    string
	Keyword string
	Cluster string
	Args    []string
}

// String renders the single-line legacy form:
//
//	<sudo> <path> <keyword> <cluster> <argument>
//
// Multiple arguments are joined by one space. The separator before the
// argument is always written, so a command without arguments ends in a space.
// Commands without an efm keyword (the properties reader) render as their argv.
func (c Command) String() string {
	if c.Keyword == "" {
		return strings.Join(c.Argv(), " ")
	}
	return fmt.Sprintf("%s %s %s %s %s",
		strings.Join(c.Sudo, " "), c.Path, c.Keyword, c.Cluster, strings.Join(c.Args, " "))
}

// Argv returns the argument vector that is executed. No shell is involved.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Sudo)+4+len(c.Args))
	argv = append(argv, c.Sudo...)
	argv = append(argv, c.Path)
	if c.Keyword != "" {
		argv = append(argv, c.Keyword)
	}
	if c.Cluster != "" {
		argv = append(argv, c.Cluster)
	}
	return append(argv, c.Args...)
}

// Builder turns operations into commands against one configuration snapshot.
type Builder struct {
	cfg *config.Config
}

// NewBuilder returns a builder reading cfg. cfg must not change while the
// builder is in use.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build validates settings and arguments and returns the command for op.
// For cluster-status the single argument is the output mode.
func (b *Builder) Build(op Operation, args ...string) (Command, error) {
	spec, err := Lookup(op)
	if err != nil {
		return Command{}, err
	}
	if op == OpListProperties {
		return b.ListProperties()
	}
	if err := CheckArgs(op, args); err != nil {
		return Command{}, err
	}

	keyword := spec.Keyword
	if op == OpClusterStatus {
		mode, err := ParseOutputMode(args[0])
		if err != nil {
			return Command{}, err
		}
		keyword = mode.Keyword()
		args = nil
	}

	return b.build(keyword, append(append([]string(nil), spec.FixedArgs...), args...))
}

func (b *Builder) build(keyword string, args []string) (Command, error) {
	if err := b.requireSettings(); err != nil {
		return Command{}, err
	}
	if err := commandExists(b.cfg.CommandPath); err != nil {
		return Command{}, err
	}
	if !safeWord(b.cfg.ClusterName) {
		return Command{}, fmt.Errorf("%w: cluster name %q", ErrInvalidArgument, b.cfg.ClusterName)
	}
	for _, a := range args {
		if !safeWord(a) {
			return Command{}, fmt.Errorf("%w: %q is not a plain word", ErrInvalidArgument, a)
		}
	}

	return Command{
		Sudo:    strings.Fields(b.cfg.SudoPrefix),
		Path:    b.cfg.CommandPath,
		Keyword: keyword,
		Cluster: b.cfg.ClusterName,
		Args:    args,
	}, nil
}

func (b *Builder) requireSettings() error {
	switch {
	case b.cfg.ClusterName == "":
		return fmt.Errorf("%w: efm.cluster_name parameter is undefined", ErrConfiguration)
	case strings.TrimSpace(b.cfg.SudoPrefix) == "":
		return fmt.Errorf("%w: efm.edb_sudo parameter is undefined", ErrConfiguration)
	case b.cfg.CommandPath == "":
		return fmt.Errorf("%w: efm.command_path parameter is undefined", ErrConfiguration)
	}
	return nil
}

// commandExists probes for existence only; whether the file is executable
// is left to the spawn.
func commandExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s command not available", ErrUnavailableTool, path)
	}
	return nil
}

// PropertiesFile returns the path of the cluster's properties file.
func (b *Builder) PropertiesFile() (string, error) {
	if b.cfg.PropertiesDir == "" {
		return "", fmt.Errorf("%w: efm.properties_location is undefined", ErrConfiguration)
	}
	if b.cfg.ClusterName == "" {
		return "", fmt.Errorf("%w: efm.cluster_name parameter is undefined", ErrConfiguration)
	}
	if !safeWord(b.cfg.ClusterName) {
		return "", fmt.Errorf("%w: cluster name %q", ErrInvalidArgument, b.cfg.ClusterName)
	}

	file := filepath.Join(b.cfg.PropertiesDir, b.cfg.ClusterName+".properties")
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("%w: %s file not available", ErrMissingFile, file)
	}
	return file, nil
}

// ListProperties returns the command that prints the properties file.
// It runs without the sudo prefix but still requires the same settings as
// every other operation. Comment and blank lines are removed by
// PropertiesFilter on the reading side.
func (b *Builder) ListProperties() (Command, error) {
	if err := b.requireSettings(); err != nil {
		return Command{}, err
	}
	file, err := b.PropertiesFile()
	if err != nil {
		return Command{}, err
	}
	cat := b.cfg.CatPath
	if cat == "" {
		cat = "cat"
	}
	return Command{Path: cat, Args: []string{file}}, nil
}

// shellMeta holds the bytes that would change meaning under a shell.
const shellMeta = "|&;<>()$`\\\"' \t\r\n*?[]{}#~!"

// safeWord reports whether s can be passed as a single efm argument.
// Node addresses, priorities, cluster names and flags such as -switchover
// all qualify.
func safeWord(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(shellMeta, c) >= 0 {
			return false
		}
	}
	return true
}
