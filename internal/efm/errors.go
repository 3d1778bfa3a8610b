package efm

import "errors"

// Error taxonomy. Callers match with errors.Is; messages carry the
// offending setting, path or argument.
var (
	// ErrConfiguration means a required setting is unset.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnavailableTool means the configured efm binary does not exist.
	ErrUnavailableTool = errors.New("command not available")

	// ErrMissingFile means the cluster properties file does not exist.
	ErrMissingFile = errors.New("file not available")

	// ErrPermission means the caller is not an elevated principal.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidArgument covers bad output modes, wrong argument counts
	// and arguments that are not safe to pass to efm.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSpawn means the process could not be started.
	ErrSpawn = errors.New("failed to run command")

	// ErrCommandFailed means a streamed command exited non-zero.
	ErrCommandFailed = errors.New("command failed")

	// ErrStreamCorrupted means reading command output failed with something
	// other than end-of-stream. The session cannot continue.
	ErrStreamCorrupted = errors.New("failed to read command output")
)
