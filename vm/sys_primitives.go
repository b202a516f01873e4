package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"runtime"
)

// Version is reported by sys.version.
const Version = "bytevm 0.3.0"

// ---------------------------------------------------------------------------
// sys
// ---------------------------------------------------------------------------

func (v *VM) sysModule() *Dict {
	d := newModule("sys")
	def(d, "exit", func(v *VM, args []Value) Value {
		code := 0
		if len(args) > 0 {
			switch a := args[0]; {
			case a.IsNone():
			case numRank(a) == 1:
				code = int(a.AsInt())
			default:
				fmt.Fprintln(os.Stderr, a.String())
				code = 1
			}
		}
		if v.pending == nil {
			v.pending = &ExitError{Code: code}
		}
		return None
	})
	d.SetStr("argv", strList(v.argv))
	exe, _ := os.Executable()
	d.SetStr("executable", Str(exe))
	d.SetStr("path", strList([]string{"."}))
	d.SetStr("byteorder", Str(byteOrder()))
	d.SetStr("platform", Str(platform()))
	d.SetStr("version", Str(Version))
	d.SetStr("maxsize", Int(math.MaxInt64))
	return d
}

func byteOrder() string {
	var word [2]byte
	binary.NativeEndian.PutUint16(word[:], 1)
	if word[0] == 1 {
		return "little"
	}
	return "big"
}

// platform maps GOOS onto the names sys.platform conventionally reports.
func platform() string {
	switch runtime.GOOS {
	case "windows":
		return "win32"
	case "js":
		return "emscripten"
	}
	return runtime.GOOS
}
