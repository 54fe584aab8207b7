// Package pathresolver resolves the daemon's installation root and the
// fixed set of file paths that live under it: starting from the current
// working directory, walk up looking for a ".messages" marker directory,
// stopping at os.TempDir() to avoid matching a stray marker above a temp
// sandbox, and falling back to "$HOME/.messages" when no marker is found.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"
)

// MarkerDir is the directory name that anchors an installation root.
const MarkerDir = ".messages"

// Paths is the resolved set of file/directory locations the daemon reads
// and writes under its installation root.
type Paths struct {
	Root string // the directory containing the .messages marker

	// MessagesDir is Root/.messages. The database, config, metadata and
	// per-platform files live under it; the logging dir is under Root and
	// the socket and PID file are fixed paths under /tmp.
	MessagesDir string

	DBPath         string // Root/.messages/state.db
	SocketPath     string
	PIDFile        string
	ConfigPath     string // Root/.messages/messages.yaml
	MetadataPath   string // Root/.messages/metadata.json
	LoggingDir     string // Root/logging
	LogFile        string // Root/logging/daemon.log
}

// Resolve walks up from the current working directory looking for a
// .messages marker. If none is found, it falls back to $HOME/.messages
// without requiring the marker to already exist there; the daemon's start
// creates it (EnsureDirs).
func Resolve() (*Paths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("pathresolver: getwd: %w", err)
	}
	return ResolveFrom(cwd)
}

// ResolveFrom performs the same walk as Resolve but starting from an
// explicit directory, useful for tests and for commands invoked with
// --root.
func ResolveFrom(start string) (*Paths, error) {
	if root, ok := findMarker(start); ok {
		return fromRoot(root), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("pathresolver: no .messages marker found above %s and could not resolve home: %w", start, err)
	}
	return fromRoot(home), nil
}

// findMarker walks up from start looking for a .messages directory,
// stopping (without matching) once it would cross into os.TempDir().
func findMarker(start string) (root string, ok bool) {
	tmp := filepath.Clean(os.TempDir())

	dir := filepath.Clean(start)
	for {
		if filepath.Clean(dir) == tmp {
			return "", false
		}
		candidate := filepath.Join(dir, MarkerDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func fromRoot(root string) *Paths {
	messagesDir := filepath.Join(root, MarkerDir)
	loggingDir := filepath.Join(root, "logging")
	return &Paths{
		Root:         root,
		MessagesDir:  messagesDir,
		DBPath:       filepath.Join(messagesDir, "state.db"),
		SocketPath:   "/tmp/messages-daemon.sock",
		PIDFile:      "/tmp/messages-daemon.pid",
		ConfigPath:   filepath.Join(messagesDir, "messages.yaml"),
		MetadataPath: filepath.Join(messagesDir, "metadata.json"),
		LoggingDir:   loggingDir,
		LogFile:      filepath.Join(loggingDir, "daemon.log"),
	}
}

// PlatformAuthDir returns the directory holding a platform's private
// session material: .../messages/<platform>-auth/.
func (p *Paths) PlatformAuthDir(platform string) string {
	return filepath.Join(p.MessagesDir, platform+"-auth")
}

// PlatformStateFile returns the optional out-of-band incremental sync
// snapshot path for a platform: .../messages/<platform>-state.json.
func (p *Paths) PlatformStateFile(platform string) string {
	return filepath.Join(p.MessagesDir, platform+"-state.json")
}

// EnsureDirs creates MessagesDir, LoggingDir, and every registered
// platform's auth directory.
func (p *Paths) EnsureDirs(platforms ...string) error {
	if err := os.MkdirAll(p.MessagesDir, 0o755); err != nil {
		return fmt.Errorf("pathresolver: creating %s: %w", p.MessagesDir, err)
	}
	if err := os.MkdirAll(p.LoggingDir, 0o755); err != nil {
		return fmt.Errorf("pathresolver: creating %s: %w", p.LoggingDir, err)
	}
	for _, pl := range platforms {
		if err := os.MkdirAll(p.PlatformAuthDir(pl), 0o700); err != nil {
			return fmt.Errorf("pathresolver: creating auth dir for %s: %w", pl, err)
		}
	}
	return nil
}
