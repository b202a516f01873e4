package vm

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// os.path
// ---------------------------------------------------------------------------

func (v *VM) pathModule() *Dict {
	d := newModule("os.path")

	// Predicates answer False when the read permission is off.
	predicate := func(name string, fn func(p string) bool) {
		def(d, name, guarded(policy.Read, "os.path."+name, False, func(_ *VM, args []Value) Value {
			p, ok := pathArg(args, 0)
			return Bool(ok && fn(p))
		}))
	}
	predicate("exists", func(p string) bool { _, err := os.Stat(p); return err == nil })
	predicate("lexists", func(p string) bool { _, err := os.Lstat(p); return err == nil })
	predicate("isdir", func(p string) bool { info, err := os.Stat(p); return err == nil && info.IsDir() })
	predicate("isfile", func(p string) bool { info, err := os.Stat(p); return err == nil && info.Mode().IsRegular() })
	predicate("islink", func(p string) bool {
		info, err := os.Lstat(p)
		return err == nil && info.Mode()&os.ModeSymlink != 0
	})

	stat := func(name string, fn func(p string) (Value, bool)) {
		def(d, name, guarded(policy.Read, "os.path."+name, None, func(_ *VM, args []Value) Value {
			p, ok := pathArg(args, 0)
			if !ok {
				return None
			}
			if res, ok := fn(p); ok {
				return res
			}
			return None
		}))
	}
	stat("getsize", func(p string) (Value, bool) {
		info, err := os.Stat(p)
		if err != nil {
			return None, false
		}
		return Int(info.Size()), true
	})
	stat("getmtime", func(p string) (Value, bool) {
		info, err := os.Stat(p)
		if err != nil {
			return None, false
		}
		return Float(float64(info.ModTime().UnixNano()) / 1e9), true
	})
	stat("getatime", func(p string) (Value, bool) {
		at, _, ok := fileTimes(p)
		return Float(at), ok
	})
	stat("getctime", func(p string) (Value, bool) {
		_, ct, ok := fileTimes(p)
		return Float(ct), ok
	})
	stat("realpath", func(p string) (Value, bool) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return None, false
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		return Str(abs), true
	})
	def(d, "samefile", guarded(policy.Read, "os.path.samefile", False, func(_ *VM, args []Value) Value {
		a, ok1 := pathArg(args, 0)
		b, ok2 := pathArg(args, 1)
		if !ok1 || !ok2 {
			return False
		}
		ia, err1 := os.Stat(a)
		ib, err2 := os.Stat(b)
		return Bool(err1 == nil && err2 == nil && os.SameFile(ia, ib))
	}))

	// Pure string manipulation needs no permission.
	pure := func(name string, fn func(p string) Value) {
		def(d, name, func(_ *VM, args []Value) Value {
			p, ok := pathArg(args, 0)
			if !ok {
				return None
			}
			return fn(p)
		})
	}
	pure("basename", func(p string) Value { return Str(p[len(splitDir(p)):]) })
	pure("dirname", func(p string) Value { return Str(trimDir(splitDir(p))) })
	pure("split", func(p string) Value {
		dir := splitDir(p)
		return NewTuple(Str(trimDir(dir)), Str(p[len(dir):]))
	})
	pure("splitext", func(p string) Value {
		ext := filepath.Ext(p)
		base := p[len(splitDir(p)):]
		if ext == base {
			ext = ""
		}
		return NewTuple(Str(p[:len(p)-len(ext)]), Str(ext))
	})
	pure("isabs", func(p string) Value { return Bool(filepath.IsAbs(p)) })
	pure("normpath", func(p string) Value { return Str(filepath.Clean(p)) })
	pure("normcase", func(p string) Value {
		if osName() == "nt" {
			return Str(strings.ToLower(strings.ReplaceAll(p, "/", `\`)))
		}
		return Str(p)
	})
	pure("abspath", func(p string) Value {
		abs, err := filepath.Abs(p)
		if err != nil {
			return None
		}
		return Str(abs)
	})
	pure("expanduser", func(p string) Value {
		if p != "~" && !strings.HasPrefix(p, "~/") {
			return Str(p)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return Str(p)
		}
		return Str(home + p[1:])
	})
	def(d, "relpath", func(_ *VM, args []Value) Value {
		p, ok := pathArg(args, 0)
		if !ok {
			return None
		}
		start := "."
		if s, ok := pathArg(args, 1); ok {
			start = s
		}
		absP, err1 := filepath.Abs(p)
		absS, err2 := filepath.Abs(start)
		if err1 != nil || err2 != nil {
			return None
		}
		rel, err := filepath.Rel(absS, absP)
		if err != nil {
			return None
		}
		return Str(rel)
	})
	def(d, "join", func(_ *VM, args []Value) Value {
		out := ""
		for i := range args {
			p, ok := pathArg(args, i)
			if !ok {
				return None
			}
			switch {
			case filepath.IsAbs(p) || out == "":
				out = p
			case strings.HasSuffix(out, string(filepath.Separator)):
				out += p
			default:
				out += string(filepath.Separator) + p
			}
		}
		return Str(out)
	})

	d.SetStr("sep", Str(string(filepath.Separator)))
	d.SetStr("pathsep", Str(string(filepath.ListSeparator)))
	d.SetStr("extsep", Str("."))
	d.SetStr("curdir", Str("."))
	d.SetStr("pardir", Str(".."))
	return d
}

// splitDir returns the directory prefix of p including its trailing
// separator.
func splitDir(p string) string {
	i := strings.LastIndexAny(p, `/`+string(filepath.Separator))
	return p[:i+1]
}

// trimDir strips trailing separators unless the directory is the root.
func trimDir(dir string) string {
	trimmed := strings.TrimRight(dir, `/`+string(filepath.Separator))
	if trimmed == "" {
		return dir
	}
	return trimmed
}
