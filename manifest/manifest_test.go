package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/bytevm/policy"
	"github.com/chazu/bytevm/scheduler"
	"github.com/chazu/bytevm/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"
entry = "main.py"

[runtime]
max_depth = 64
argv = ["one", "two"]

[scheduler]
mode = "scheduled"
budget = 7

[policy]
exec = false
env = true

[cache]
backend = "bolt"

[log]
verbosity = 2
file = "logs/bytevm.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.EntryPath() != filepath.Join(m.Dir, "main.py") {
		t.Errorf("entry path = %q", m.EntryPath())
	}
	if m.Runtime.MaxDepth != 64 || len(m.Runtime.Argv) != 2 {
		t.Errorf("runtime = %+v", m.Runtime)
	}
	if m.Scheduler.Mode != "scheduled" || m.Scheduler.Budget != 7 {
		t.Errorf("scheduler = %+v", m.Scheduler)
	}
	if m.Cache.Backend != "bolt" || m.CachePath() != filepath.Join(m.Dir, ".bytevm", "cache-bolt") {
		t.Errorf("cache = %+v, path %q", m.Cache, m.CachePath())
	}
	if m.Log.Verbosity != 2 || m.LogPath() == nil || *m.LogPath() != filepath.Join(m.Dir, "logs", "bytevm.log") {
		t.Errorf("log = %+v", m.Log)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Scheduler.Mode != "native" || m.Scheduler.Budget != scheduler.DefaultBudget {
		t.Errorf("scheduler defaults = %+v", m.Scheduler)
	}
	if m.Runtime.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("max depth = %d", m.Runtime.MaxDepth)
	}
	if m.Cache.Backend != "" || m.EntryPath() != "" || m.LogPath() != nil {
		t.Errorf("optional sections should be empty: %+v %+v", m.Cache, m.Log)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[project\nname = 1", "parse error"},
		{"mode", "[scheduler]\nmode = \"fibers\"", "unknown scheduler mode"},
		{"backend", "[cache]\nbackend = \"redis\"", "unknown cache backend"},
		{"type", "[scheduler]\nbudget = \"lots\"", "parse error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load error = %v, want %q", err, tc.want)
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without a manifest succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[project]\nname = \"walk\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Project.Name != "walk" {
		t.Fatalf("FindAndLoad = %+v", m)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if m != nil && m.Dir == "" {
		t.Errorf("FindAndLoad returned a manifest without a directory")
	}
}

func TestApplyPolicy(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[policy]\nread = false\nexec = true\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	kit := policy.New()
	before := kit.Check(policy.Write)
	m.Apply(kit)
	if kit.Check(policy.Read) {
		t.Error("read still allowed")
	}
	if !kit.Check(policy.Exec) {
		t.Error("exec not allowed")
	}
	if kit.Check(policy.Write) != before {
		t.Error("unset permission changed")
	}
}

func TestOptions(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[scheduler]\nmode = \"scheduled\"\nbudget = 9\n[runtime]\nmax_depth = 3\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := scheduler.New(m.SchedulerOptions()...)
	if s.Mode() != scheduler.Scheduled || s.Budget() != 9 {
		t.Errorf("scheduler = %v/%d", s.Mode(), s.Budget())
	}

	// max_depth = 3 makes a short recursion overflow.
	machine := vm.New(m.VMOptions()...)
	f := &vm.Function{Name: "f", Params: []string{"n"}}
	f.Code = []vm.Instruction{
		{Op: vm.OpLoadName, Const: vm.Str("f")},
		{Op: vm.OpLoadName, Const: vm.Str("n")},
		{Op: vm.OpCallFunction, Arg: 1},
		{Op: vm.OpReturnValue},
	}
	machine.SetGlobal("f", vm.FunctionValue(f))
	if _, err := machine.Call(vm.FunctionValue(f), vm.Int(1)); err == nil {
		t.Error("unbounded recursion did not fail")
	} else if !strings.Contains(err.Error(), "RecursionError") {
		t.Errorf("err = %v, want RecursionError", err)
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m.Scheduler.Budget != scheduler.DefaultBudget || m.Dir == "" {
		t.Errorf("Default() = %+v", m)
	}
	if opts := m.SchedulerOptions(); len(opts) != 2 {
		t.Errorf("SchedulerOptions = %d options", len(opts))
	}
}
