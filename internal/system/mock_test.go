package system

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"
)

func TestMockFS_ReadWriteFile(t *testing.T) {
	mockFS := NewMockFS()

	if err := mockFS.WriteFile("/scratch/launch.sh", []byte("#!/bin/bash\n"), 0755); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	data, err := mockFS.ReadFile("/scratch/launch.sh")
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "#!/bin/bash\n" {
		t.Errorf("ReadFile = %q", string(data))
	}

	if mode, _ := mockFS.Mode("/scratch/launch.sh"); mode != 0755 {
		t.Errorf("Mode = %v, want 0755", mode)
	}
}

func TestMockFS_ReadFile_NotExists(t *testing.T) {
	mockFS := NewMockFS()

	if _, err := mockFS.ReadFile("/nonexistent"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestMockFS_StatAndLstat(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddFile("/opt/conda/bin/python", []byte("elf"), 0755)

	tests := []struct {
		path    string
		wantDir bool
		wantErr bool
	}{
		{"/opt/conda/bin/python", false, false},
		{"/opt/conda/bin", true, false},
		{"/opt/missing", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			for _, stat := range []func(string) (fs.FileInfo, error){mockFS.Stat, mockFS.Lstat} {
				info, err := stat(tt.path)
				if tt.wantErr {
					if err == nil {
						t.Error("expected error")
					}
					continue
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if info.IsDir() != tt.wantDir {
					t.Errorf("IsDir = %v, want %v", info.IsDir(), tt.wantDir)
				}
			}
		})
	}
}

func TestMockFS_MkdirTemp(t *testing.T) {
	mockFS := NewMockFS()

	a, err := mockFS.MkdirTemp("/tmp", "forage-lab-*")
	if err != nil {
		t.Fatalf("MkdirTemp error: %v", err)
	}
	b, _ := mockFS.MkdirTemp("/tmp", "forage-lab-*")

	if a == b {
		t.Errorf("MkdirTemp returned the same path twice: %s", a)
	}
	if !mockFS.IsDir(a) || !mockFS.IsDir(b) {
		t.Error("temp dirs should exist")
	}
}

func TestMockFS_RemoveAll(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddFile("/dir/file1.txt", []byte("x"), 0644)
	mockFS.AddFile("/dir/sub/file2.txt", []byte("y"), 0644)
	mockFS.AddFile("/dirother/keep.txt", []byte("z"), 0644)

	if err := mockFS.RemoveAll("/dir"); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}

	if mockFS.Exists("/dir/file1.txt") || mockFS.Exists("/dir/sub") || mockFS.Exists("/dir") {
		t.Error("/dir should be removed entirely")
	}
	if !mockFS.Exists("/dirother/keep.txt") {
		t.Error("sibling with shared prefix should be kept")
	}
}

func TestMockFS_ReadDir(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddDir("/home/u/miniconda3/envs/a")
	mockFS.AddDir("/home/u/miniconda3/envs/b")
	mockFS.AddFile("/home/u/miniconda3/envs/.conda_envs_dir_test", nil, 0644)

	entries, err := mockFS.ReadDir("/home/u/miniconda3/envs")
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}

	dirs := 0
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		}
	}
	if len(entries) != 3 || dirs != 2 {
		t.Errorf("entries = %d, dirs = %d; want 3 and 2", len(entries), dirs)
	}

	if _, err := mockFS.ReadDir("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir missing = %v, want fs.ErrNotExist", err)
	}
}

func TestMockFS_Chmod(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddFile("/data/file", nil, 0600)
	mockFS.AddDir("/data/dir")

	if err := mockFS.Chmod("/data/file", 0777); err != nil {
		t.Fatalf("Chmod error: %v", err)
	}
	if mode, _ := mockFS.Mode("/data/file"); mode != 0777 {
		t.Errorf("mode = %v", mode)
	}
	if err := mockFS.Chmod("/data/dir", 0777); err != nil {
		t.Errorf("Chmod dir error: %v", err)
	}
	if err := mockFS.Chmod("/data/missing", 0777); err == nil {
		t.Error("Chmod on missing path should fail")
	}
}

func TestMockFS_ErrorInjection(t *testing.T) {
	mockFS := NewMockFS()
	injected := errors.New("injected")
	mockFS.WriteFileErr = injected
	mockFS.MkdirTempErr = injected

	if err := mockFS.WriteFile("/x", nil, 0644); err != injected {
		t.Errorf("WriteFile error = %v", err)
	}
	if _, err := mockFS.MkdirTemp("/tmp", "x-*"); err != injected {
		t.Errorf("MkdirTemp error = %v", err)
	}
}

func TestMockExecutor_Lookup(t *testing.T) {
	exec := NewMockExecutor()
	exec.AddResponse("docker volume inspect neurodesk-home", []byte("full"), nil)
	exec.AddResponse("docker volume", []byte("prefix"), nil)
	exec.AddResponse("podman", []byte("name"), nil)
	exec.DefaultResponse = MockResponse{Output: []byte("default")}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"docker", []string{"volume", "inspect", "neurodesk-home"}, "full"},
		{"docker", []string{"volume", "create", "neurodesk-home"}, "prefix"},
		{"podman", []string{"ps"}, "name"},
		{"tinyrange", nil, "default"},
	}

	ctx := context.Background()
	for _, tt := range tests {
		out, err := exec.Execute(ctx, tt.name, tt.args...)
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if string(out) != tt.want {
			t.Errorf("Execute(%s %v) = %q, want %q", tt.name, tt.args, out, tt.want)
		}
	}

	if len(exec.Commands) != len(tests) {
		t.Errorf("recorded %d commands, want %d", len(exec.Commands), len(tests))
	}
	if n := exec.CountCalls("docker", "volume"); n != 2 {
		t.Errorf("CountCalls(docker volume) = %d, want 2", n)
	}
}

func TestMockExecutor_RunSeparatesStreams(t *testing.T) {
	exec := NewMockExecutor()
	exec.SetResponse("/usr/bin/python3 -c", MockResponse{
		Stderr:   []byte("Traceback"),
		ExitCode: 1,
		Err:      errors.New("exit status 1"),
	})

	res, err := exec.Run(context.Background(), Command{
		Name: "/usr/bin/python3",
		Args: []string{"-c", "print(1)"},
		Env:  []string{"PATH=/usr/bin"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.ExitCode != 1 || string(res.Stderr) != "Traceback" || len(res.Stdout) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	last, ok := exec.LastCommand()
	if !ok || last.Env[0] != "PATH=/usr/bin" {
		t.Errorf("LastCommand = %+v", last)
	}
}

func TestMockExecutor_DelayHonoursContext(t *testing.T) {
	exec := NewMockExecutor()
	exec.DefaultResponse = MockResponse{Delay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := exec.Run(ctx, Command{Name: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run error = %v, want deadline exceeded", err)
	}
}

func TestMockSpawner_Lifecycle(t *testing.T) {
	spawner := NewMockSpawner()
	var hooked []string
	spawner.OnSpawn = func(cmd Command, p *MockProcess) {
		hooked = append(hooked, cmd.Name)
		p.WriteOutput("listening\n", "")
	}

	proc, err := spawner.Spawn(Command{Name: "bash", Args: []string{"/tmp/launch.sh"}})
	if err != nil {
		t.Fatalf("Spawn error: %v", err)
	}

	if _, exited := proc.Status(); exited {
		t.Fatal("process should be running")
	}
	if proc.Stdout() != "listening\n" {
		t.Errorf("Stdout = %q", proc.Stdout())
	}

	spawner.Last().Exit(3)
	<-proc.Done()

	status, exited := proc.Status()
	if !exited || status.Code != 3 {
		t.Errorf("Status = %+v, %v", status, exited)
	}

	// Kill after exit leaves the status untouched.
	_ = proc.Kill()
	if spawner.Last().Killed() {
		t.Error("Kill after exit should not mark the process killed")
	}
	if len(hooked) != 1 || spawner.Count() != 1 {
		t.Errorf("hook calls = %d, count = %d", len(hooked), spawner.Count())
	}
}

func TestMockSpawner_KillAndError(t *testing.T) {
	spawner := NewMockSpawner()
	proc, _ := spawner.Spawn(Command{Name: "bash"})

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill error: %v", err)
	}
	status, _ := proc.Status()
	if status.Signal != "killed" || !spawner.Last().Killed() {
		t.Errorf("status after kill = %+v", status)
	}

	spawner.SpawnErr = errors.New("no bash")
	if _, err := spawner.Spawn(Command{Name: "bash"}); err == nil {
		t.Error("expected spawn error")
	}
}
