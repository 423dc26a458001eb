// Package system provides abstractions for OS operations to enable testing.
package system

import (
	"context"
	"io/fs"
	"os"
)

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	// ReadFile reads the named file and returns the contents.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// RemoveAll removes path and any children it contains.
	RemoveAll(path string) error

	// Stat returns file info for the named file.
	Stat(path string) (fs.FileInfo, error)

	// Lstat returns file info without following a final symlink.
	Lstat(path string) (fs.FileInfo, error)

	// MkdirAll creates a directory named path, along with any necessary parents.
	MkdirAll(path string, perm fs.FileMode) error

	// MkdirTemp creates a new uniquely named directory under dir.
	MkdirTemp(dir, pattern string) (string, error)

	// Chmod changes the mode of the named file.
	Chmod(path string, mode fs.FileMode) error

	// Exists returns true if the path exists.
	Exists(path string) bool

	// IsDir returns true if the path is a directory.
	IsDir(path string) bool

	// ReadDir reads the named directory, returning all its directory entries.
	ReadDir(path string) ([]fs.DirEntry, error)
}

// Command describes a subprocess invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env is the complete environment; nil inherits the current process env.
	Env []string
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Execute runs a command and returns its combined output.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)

	// Run runs a command to completion with stdout and stderr captured
	// separately. A non-zero exit is reported both in Result.ExitCode and
	// as an error.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitStatus describes how a spawned process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was signalled.
	Code int

	// Signal names the terminating signal, if any.
	Signal string

	// Err is set when waiting on the process failed.
	Err error
}

// Process is a running subprocess whose output is captured as it runs.
type Process interface {
	// Pid returns the OS process id.
	Pid() int

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// Status returns the exit status and whether the process has exited.
	Status() (ExitStatus, bool)

	// Stdout and Stderr return the output captured so far.
	Stdout() string
	Stderr() string

	// Kill forcibly terminates the process. Killing an exited process is a no-op.
	Kill() error
}

// Spawner starts long-lived subprocesses.
type Spawner interface {
	Spawn(cmd Command) (Process, error)
}

// Default instances using real OS operations.
var (
	defaultFS       FileSystem      = &osFileSystem{}
	defaultExecutor CommandExecutor = &osExecutor{}
	defaultSpawner  Spawner         = &osSpawner{}
)

// DefaultFS returns the default FileSystem implementation using real OS operations.
func DefaultFS() FileSystem {
	return defaultFS
}

// DefaultExecutor returns the default CommandExecutor implementation.
func DefaultExecutor() CommandExecutor {
	return defaultExecutor
}

// DefaultSpawner returns the default Spawner implementation.
func DefaultSpawner() Spawner {
	return defaultSpawner
}

// SetDefaultFS sets the default FileSystem (useful for testing).
func SetDefaultFS(fs FileSystem) {
	defaultFS = fs
}

// SetDefaultExecutor sets the default CommandExecutor (useful for testing).
func SetDefaultExecutor(exec CommandExecutor) {
	defaultExecutor = exec
}

// SetDefaultSpawner sets the default Spawner (useful for testing).
func SetDefaultSpawner(s Spawner) {
	defaultSpawner = s
}

// ResetDefaults restores the default OS implementations.
func ResetDefaults() {
	defaultFS = &osFileSystem{}
	defaultExecutor = &osExecutor{}
	defaultSpawner = &osSpawner{}
}

// osFileSystem implements FileSystem using real OS operations.
type osFileSystem struct{}

func (f *osFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (f *osFileSystem) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (f *osFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (f *osFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (f *osFileSystem) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (f *osFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *osFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (f *osFileSystem) Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

func (f *osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (f *osFileSystem) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (f *osFileSystem) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}
