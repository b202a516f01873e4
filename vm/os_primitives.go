package vm

import (
	"crypto/rand"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// Module plumbing
// ---------------------------------------------------------------------------

// newModule returns an empty module dict.
func newModule(name string) *Dict {
	d := newDict()
	d.SetStr("__name__", Str(name))
	return d
}

func (v *VM) addModule(name string, d *Dict) Value {
	m := Value{kind: KindDict, ref: d}
	v.modules[name] = m
	return m
}

func def(d *Dict, name string, fn func(*VM, []Value) Value) {
	d.SetStr(name, builtin(name, fn))
}

// guarded wraps fn so that it runs only when perm is granted. A denied call
// returns denied without touching the host.
func guarded(perm policy.Permission, op string, denied Value, fn func(*VM, []Value) Value) func(*VM, []Value) Value {
	return func(v *VM, args []Value) Value {
		if !v.allowed(perm, op) {
			return denied
		}
		return fn(v, args)
	}
}

// bindModules builds the standard modules and binds each top-level module
// into globals.
func (v *VM) bindModules() {
	osMod := v.osModule()
	pathMod := v.pathModule()
	osMod.SetStr("path", v.addModule("os.path", pathMod))
	v.addModule("os", osMod)
	v.addModule("sys", v.sysModule())
	v.addModule("math", mathModule())
	v.addModule("time", timeModule())
	v.addModule("json", jsonModule())
	v.addModule("subprocess", subprocessModule())
	v.addModule("socket", socketModule())
	loaded := newDict()
	names := make([]string, 0, len(v.modules))
	for name := range v.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		loaded.SetStr(name, v.modules[name])
		if !strings.Contains(name, ".") {
			v.globals[name] = v.modules[name]
		}
	}
	v.modules["sys"].AsDict().SetStr("modules", Value{kind: KindDict, ref: loaded})
}

func pathArg(args []Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	switch args[i].Kind() {
	case KindStr, KindBytes:
		return args[i].AsStr(), true
	}
	return "", false
}

// hostOp runs a path-taking mutation and reports success as a bool.
func hostOp(v *VM, name string, err error) Value {
	if err != nil {
		v.log.Debugf("os.%s: %s", name, err)
		return False
	}
	return True
}

func strList(ss []string) Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = Str(s)
	}
	return NewList(out...)
}

func intArg(args []Value, i int, def int64) int64 {
	if i < len(args) && numRank(args[i]) == 1 {
		return args[i].AsInt()
	}
	return def
}

// ---------------------------------------------------------------------------
// os
// ---------------------------------------------------------------------------

func (v *VM) osModule() *Dict {
	d := newModule("os")
	mutate := func(name string, fn func(args []Value) error) {
		def(d, name, guarded(policy.Write, "os."+name, False, func(v *VM, args []Value) Value {
			return hostOp(v, name, fn(args))
		}))
	}
	path1 := func(fn func(string) error) func([]Value) error {
		return func(args []Value) error {
			p, ok := pathArg(args, 0)
			if !ok {
				return os.ErrInvalid
			}
			return fn(p)
		}
	}
	path2 := func(fn func(a, b string) error) func([]Value) error {
		return func(args []Value) error {
			a, ok1 := pathArg(args, 0)
			b, ok2 := pathArg(args, 1)
			if !ok1 || !ok2 {
				return os.ErrInvalid
			}
			return fn(a, b)
		}
	}

	mutate("mkdir", func(args []Value) error {
		p, ok := pathArg(args, 0)
		if !ok {
			return os.ErrInvalid
		}
		return os.Mkdir(p, os.FileMode(intArg(args, 1, 0o777)))
	})
	mutate("makedirs", func(args []Value) error {
		p, ok := pathArg(args, 0)
		if !ok {
			return os.ErrInvalid
		}
		return os.MkdirAll(p, os.FileMode(intArg(args, 1, 0o777)))
	})
	mutate("rmdir", path1(os.Remove))
	mutate("remove", path1(os.Remove))
	mutate("unlink", path1(os.Remove))
	mutate("removedirs", path1(removeDirs))
	mutate("rename", path2(os.Rename))
	mutate("replace", path2(os.Rename))
	mutate("symlink", path2(os.Symlink))
	mutate("truncate", func(args []Value) error {
		p, ok := pathArg(args, 0)
		if !ok {
			return os.ErrInvalid
		}
		return os.Truncate(p, intArg(args, 1, 0))
	})
	mutate("chmod", func(args []Value) error {
		p, ok := pathArg(args, 0)
		if !ok || len(args) < 2 {
			return os.ErrInvalid
		}
		return os.Chmod(p, os.FileMode(args[1].AsInt()))
	})

	def(d, "listdir", guarded(policy.Read, "os.listdir", None, func(v *VM, args []Value) Value {
		p := "."
		if s, ok := pathArg(args, 0); ok {
			p = s
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			v.log.Debugf("os.listdir: %s", err)
			return None
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return strList(names)
	}))
	def(d, "readlink", guarded(policy.Read, "os.readlink", None, func(v *VM, args []Value) Value {
		p, ok := pathArg(args, 0)
		if !ok {
			return None
		}
		target, err := os.Readlink(p)
		if err != nil {
			return None
		}
		return Str(target)
	}))
	def(d, "access", guarded(policy.Read, "os.access", False, func(v *VM, args []Value) Value {
		p, ok := pathArg(args, 0)
		if !ok {
			return False
		}
		return Bool(hostAccess(p, int(intArg(args, 1, 0))))
	}))
	def(d, "getcwd", func(v *VM, _ []Value) Value {
		wd, err := os.Getwd()
		if err != nil {
			return None
		}
		return Str(wd)
	})
	// chdir moves the whole process, every VM included.
	def(d, "chdir", guarded(policy.Read, "os.chdir", False, func(v *VM, args []Value) Value {
		p, ok := pathArg(args, 0)
		if !ok {
			return False
		}
		return hostOp(v, "chdir", os.Chdir(p))
	}))

	def(d, "getenv", guarded(policy.Env, "os.getenv", None, func(v *VM, args []Value) Value {
		name, ok := pathArg(args, 0)
		if !ok {
			return None
		}
		if val, ok := os.LookupEnv(name); ok {
			return Str(val)
		}
		if len(args) > 1 {
			return args[1]
		}
		return None
	}))
	def(d, "putenv", guarded(policy.Env, "os.putenv", False, func(v *VM, args []Value) Value {
		name, ok1 := pathArg(args, 0)
		val, ok2 := pathArg(args, 1)
		if !ok1 || !ok2 {
			return False
		}
		return hostOp(v, "putenv", os.Setenv(name, val))
	}))
	def(d, "getlogin", guarded(policy.Env, "os.getlogin", None, func(v *VM, _ []Value) Value {
		if u, err := user.Current(); err == nil {
			return Str(u.Username)
		}
		if name := os.Getenv("USER"); name != "" {
			return Str(name)
		}
		return None
	}))

	def(d, "getpid", func(*VM, []Value) Value { return Int(int64(os.Getpid())) })
	def(d, "getppid", func(*VM, []Value) Value { return Int(int64(hostPpid())) })
	def(d, "getuid", func(*VM, []Value) Value { return Int(int64(hostUID())) })
	def(d, "getgid", func(*VM, []Value) Value { return Int(int64(hostGID())) })
	def(d, "cpu_count", func(*VM, []Value) Value { return Int(int64(runtime.NumCPU())) })
	def(d, "urandom", func(v *VM, args []Value) Value {
		n := intArg(args, 0, 0)
		if n < 0 {
			return v.raise(ValueError, "negative argument not allowed")
		}
		if n > maxBytes {
			return v.raise(MemoryError, "urandom(%d) exceeds %d bytes", n, maxBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return None
		}
		return Bytes(buf)
	})
	def(d, "uname", func(*VM, []Value) Value {
		u := hostUname()
		res := newDict()
		for i, key := range []string{"sysname", "nodename", "release", "version", "machine"} {
			res.SetStr(key, Str(u[i]))
		}
		return Value{kind: KindDict, ref: res}
	})
	def(d, "system", guarded(policy.Exec, "os.system", None, func(v *VM, args []Value) Value {
		cmdline, ok := pathArg(args, 0)
		if !ok {
			return None
		}
		cmd := shellCommand(cmdline)
		cmd.Stdout = v.stdout
		cmd.Stderr = os.Stderr
		return Int(int64(exitCode(cmd.Run())))
	}))

	d.SetStr("name", Str(osName()))
	d.SetStr("sep", Str(string(filepath.Separator)))
	if runtime.GOOS == "windows" {
		d.SetStr("altsep", Str("/"))
		d.SetStr("linesep", Str("\r\n"))
		d.SetStr("devnull", Str("nul"))
	} else {
		d.SetStr("altsep", None)
		d.SetStr("linesep", Str("\n"))
		d.SetStr("devnull", Str("/dev/null"))
	}
	d.SetStr("extsep", Str("."))
	d.SetStr("pathsep", Str(string(filepath.ListSeparator)))

	environ := newDict()
	if v.policy.Check(policy.Env) {
		for _, kv := range os.Environ() {
			if k, val, ok := strings.Cut(kv, "="); ok {
				environ.SetStr(k, Str(val))
			}
		}
	}
	d.SetStr("environ", Value{kind: KindDict, ref: environ})
	return d
}

func osName() string {
	if runtime.GOOS == "windows" {
		return "nt"
	}
	return "posix"
}

// removeDirs removes p and then each empty parent, stopping at the first
// parent that cannot be removed.
func removeDirs(p string) error {
	if err := os.Remove(p); err != nil {
		return err
	}
	for dir := filepath.Dir(filepath.Clean(p)); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func shellCommand(cmdline string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", cmdline)
	}
	return exec.Command("/bin/sh", "-c", cmdline)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
