package system

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MockFS implements FileSystem for testing.
type MockFS struct {
	mu      sync.RWMutex
	files   map[string]*mockFile
	dirs    map[string]bool
	tempSeq int

	// Error injection
	ReadFileErr  error
	WriteFileErr error
	RemoveAllErr error
	StatErr      error
	MkdirAllErr  error
	MkdirTempErr error
	ChmodErr     error
	ReadDirErr   error
}

type mockFile struct {
	data []byte
	mode fs.FileMode
}

// NewMockFS creates a new MockFS with an empty filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string]*mockFile),
		dirs:  make(map[string]bool),
	}
}

// AddFile adds a file to the mock filesystem, creating its parents.
func (m *MockFS) AddFile(path string, data []byte, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &mockFile{data: data, mode: mode}
	m.addParents(filepath.Dir(path))
}

// AddDir adds a directory to the mock filesystem.
func (m *MockFS) AddDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(path)
}

func (m *MockFS) addParents(dir string) {
	for dir != "." && dir != "/" && dir != filepath.VolumeName(dir)+string(filepath.Separator) {
		m.dirs[dir] = true
		dir = filepath.Dir(dir)
	}
}

// GetFile returns the contents of a file in the mock filesystem.
func (m *MockFS) GetFile(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return f.data, true
}

// Mode returns the permission bits recorded for a file or directory.
func (m *MockFS) Mode(path string) (fs.FileMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[path]; ok {
		return f.mode, true
	}
	if m.dirs[path] {
		return fs.ModeDir | 0755, true
	}
	return 0, false
}

func (m *MockFS) ReadFile(path string) ([]byte, error) {
	if m.ReadFileErr != nil {
		return nil, m.ReadFileErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return f.data, nil
}

func (m *MockFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if m.WriteFileErr != nil {
		return m.WriteFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &mockFile{data: data, mode: perm}
	return nil
}

func (m *MockFS) RemoveAll(path string) error {
	if m.RemoveAllErr != nil {
		return m.RemoveAllErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.files {
		if p == path || hasPathPrefix(p, path) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if p == path || hasPathPrefix(p, path) {
			delete(m.dirs, p)
		}
	}
	return nil
}

func (m *MockFS) Stat(path string) (fs.FileInfo, error) {
	if m.StatErr != nil {
		return nil, m.StatErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[path]; ok {
		return &mockFileInfo{name: filepath.Base(path), size: int64(len(f.data)), mode: f.mode}, nil
	}
	if _, ok := m.dirs[path]; ok {
		return &mockFileInfo{name: filepath.Base(path), isDir: true, mode: fs.ModeDir | 0755}, nil
	}
	return nil, fs.ErrNotExist
}

// Lstat behaves like Stat; the mock has no symlinks.
func (m *MockFS) Lstat(path string) (fs.FileInfo, error) {
	return m.Stat(path)
}

func (m *MockFS) MkdirAll(path string, perm fs.FileMode) error {
	if m.MkdirAllErr != nil {
		return m.MkdirAllErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(path)
	return nil
}

func (m *MockFS) MkdirTemp(dir, pattern string) (string, error) {
	if m.MkdirTempErr != nil {
		return "", m.MkdirTempErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempSeq++
	name := strings.Replace(pattern, "*", fmt.Sprintf("%06d", m.tempSeq), 1)
	if !strings.Contains(pattern, "*") {
		name = pattern + fmt.Sprintf("%06d", m.tempSeq)
	}
	path := filepath.Join(dir, name)
	m.addParents(path)
	return path, nil
}

func (m *MockFS) Chmod(path string, mode fs.FileMode) error {
	if m.ChmodErr != nil {
		return m.ChmodErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		f.mode = mode
		return nil
	}
	if m.dirs[path] {
		return nil
	}
	return fs.ErrNotExist
}

func (m *MockFS) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, fileOk := m.files[path]
	_, dirOk := m.dirs[path]
	return fileOk || dirOk
}

func (m *MockFS) IsDir(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[path]
}

func (m *MockFS) ReadDir(path string) ([]fs.DirEntry, error) {
	if m.ReadDirErr != nil {
		return nil, m.ReadDirErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.dirs[path] {
		return nil, fs.ErrNotExist
	}

	entries := make(map[string]fs.DirEntry)
	for p, f := range m.files {
		if filepath.Dir(p) == path {
			name := filepath.Base(p)
			entries[name] = &mockDirEntry{name: name, mode: f.mode}
		}
	}
	for p := range m.dirs {
		if filepath.Dir(p) == path && p != path {
			name := filepath.Base(p)
			entries[name] = &mockDirEntry{name: name, isDir: true, mode: fs.ModeDir | 0755}
		}
	}

	result := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	return result, nil
}

// hasPathPrefix checks if path has the given prefix as a path component.
func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix && (path[len(prefix)] == '/' || path[len(prefix)] == filepath.Separator)
}

type mockFileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	isDir bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Now() }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

type mockDirEntry struct {
	name  string
	mode  fs.FileMode
	isDir bool
}

func (m *mockDirEntry) Name() string      { return m.name }
func (m *mockDirEntry) IsDir() bool       { return m.isDir }
func (m *mockDirEntry) Type() fs.FileMode { return m.mode.Type() }
func (m *mockDirEntry) Info() (fs.FileInfo, error) {
	return &mockFileInfo{name: m.name, mode: m.mode, isDir: m.isDir}, nil
}

// MockExecutor implements CommandExecutor for testing.
type MockExecutor struct {
	mu sync.Mutex

	// Commands records all executed commands for verification.
	Commands []Command

	// Responses maps command patterns to responses. Lookup tries the full
	// command line, then "name arg0", then the bare name.
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching response is found.
	DefaultResponse MockResponse

	// Handler, when set, takes precedence over Responses.
	Handler func(ctx context.Context, cmd Command) (Result, error)
}

// MockResponse defines the response for a command.
type MockResponse struct {
	Output   []byte
	Stderr   []byte
	ExitCode int
	Err      error

	// Delay postpones the response; a cancelled context cuts it short.
	Delay time.Duration
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Commands:  make([]Command, 0),
		Responses: make(map[string]MockResponse),
	}
}

// AddResponse adds a response for a specific command pattern.
func (m *MockExecutor) AddResponse(pattern string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[pattern] = MockResponse{Output: output, Err: err}
}

// SetResponse adds a fully specified response for a command pattern.
func (m *MockExecutor) SetResponse(pattern string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[pattern] = resp
}

func (m *MockExecutor) lookup(c Command) (MockResponse, func(context.Context, Command) (Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Commands = append(m.Commands, c)
	if m.Handler != nil {
		return MockResponse{}, m.Handler
	}

	keys := []string{strings.Join(append([]string{c.Name}, c.Args...), " ")}
	if len(c.Args) > 0 {
		keys = append(keys, c.Name+" "+c.Args[0])
	}
	keys = append(keys, c.Name)

	for _, k := range keys {
		if resp, ok := m.Responses[k]; ok {
			return resp, nil
		}
	}
	return m.DefaultResponse, nil
}

func (m *MockExecutor) Run(ctx context.Context, c Command) (Result, error) {
	resp, handler := m.lookup(c)
	if handler != nil {
		return handler(ctx, c)
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return Result{ExitCode: -1}, ctx.Err()
		}
	}
	return Result{Stdout: resp.Output, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, resp.Err
}

func (m *MockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	res, err := m.Run(ctx, Command{Name: name, Args: args})
	return append(res.Stdout, res.Stderr...), err
}

// LastCommand returns the most recently executed command.
func (m *MockExecutor) LastCommand() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return Command{}, false
	}
	return m.Commands[len(m.Commands)-1], true
}

// CountCalls returns how many recorded commands have the given name and,
// when given, first argument.
func (m *MockExecutor) CountCalls(name string, firstArg ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Commands {
		if c.Name != name {
			continue
		}
		if len(firstArg) > 0 && (len(c.Args) == 0 || c.Args[0] != firstArg[0]) {
			continue
		}
		n++
	}
	return n
}

// Reset clears all recorded commands.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = make([]Command, 0)
}

// MockSpawner implements Spawner for testing. Spawned processes stay alive
// until the test calls Exit on them or they are killed.
type MockSpawner struct {
	mu      sync.Mutex
	spawned []*MockProcess
	nextPid int

	// SpawnErr is returned by Spawn if set.
	SpawnErr error

	// OnSpawn is invoked with every new process, outside the lock.
	OnSpawn func(cmd Command, p *MockProcess)
}

// NewMockSpawner creates a new MockSpawner.
func NewMockSpawner() *MockSpawner {
	return &MockSpawner{nextPid: 1000}
}

func (s *MockSpawner) Spawn(c Command) (Process, error) {
	s.mu.Lock()
	if s.SpawnErr != nil {
		err := s.SpawnErr
		s.mu.Unlock()
		return nil, err
	}
	s.nextPid++
	p := &MockProcess{Cmd: c, pid: s.nextPid, done: make(chan struct{})}
	s.spawned = append(s.spawned, p)
	hook := s.OnSpawn
	s.mu.Unlock()

	if hook != nil {
		hook(c, p)
	}
	return p, nil
}

// Spawned returns every process spawned so far.
func (s *MockSpawner) Spawned() []*MockProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockProcess(nil), s.spawned...)
}

// Count returns the number of spawned processes.
func (s *MockSpawner) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

// Last returns the most recently spawned process.
func (s *MockSpawner) Last() *MockProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spawned) == 0 {
		return nil
	}
	return s.spawned[len(s.spawned)-1]
}

// MockProcess is a controllable Process.
type MockProcess struct {
	Cmd Command

	pid    int
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	status ExitStatus
	exited bool
	killed bool
	done   chan struct{}
}

// WriteOutput appends to the captured output streams.
func (p *MockProcess) WriteOutput(stdout, stderr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stdout.WriteString(stdout)
	p.stderr.WriteString(stderr)
}

// Exit terminates the process with the given exit code.
func (p *MockProcess) Exit(code int) {
	p.finish(ExitStatus{Code: code})
}

func (p *MockProcess) finish(status ExitStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.status = status
	p.exited = true
	close(p.done)
	return true
}

// Killed reports whether Kill terminated the process.
func (p *MockProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *MockProcess) Pid() int              { return p.pid }
func (p *MockProcess) Done() <-chan struct{} { return p.done }

func (p *MockProcess) Status() (ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *MockProcess) Stdout() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String()
}

func (p *MockProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

func (p *MockProcess) Kill() error {
	if p.finish(ExitStatus{Code: -1, Signal: "killed"}) {
		p.mu.Lock()
		p.killed = true
		p.mu.Unlock()
	}
	return nil
}
