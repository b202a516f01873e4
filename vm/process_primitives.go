package vm

import (
	"bytes"
	"net"
	"os"
	"os/exec"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// subprocess
// ---------------------------------------------------------------------------

func subprocessModule() *Dict {
	d := newModule("subprocess")
	def(d, "run", guarded(policy.Exec, "subprocess.run", None, func(v *VM, args []Value) Value {
		if len(args) == 0 {
			return v.raise(TypeError, "run() missing 1 required positional argument: 'args'")
		}
		var cmd *exec.Cmd
		switch a := args[0]; {
		case a.IsStr():
			cmd = shellCommand(a.AsStr())
		case a.IsSequence() && a.Len() > 0:
			argv := make([]string, a.Len())
			for i, it := range a.Items() {
				argv[i] = it.AsStr()
			}
			cmd = exec.Command(argv[0], argv[1:]...)
		default:
			return v.raise(TypeError, "run() args must be a string or a non-empty list")
		}
		if len(args) > 1 && args[1].IsStr() {
			cmd.Stdin = bytes.NewReader(args[1].AsBytes())
		}
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
			v.log.Debugf("subprocess.run: %s", err)
		}
		res := newDict()
		res.SetStr("returncode", Int(int64(exitCode(err))))
		res.SetStr("stdout", Str(stdout.String()))
		res.SetStr("stderr", Str(stderr.String()))
		return Value{kind: KindDict, ref: res}
	}))
	return d
}

// ---------------------------------------------------------------------------
// socket
// ---------------------------------------------------------------------------

func socketModule() *Dict {
	d := newModule("socket")
	def(d, "gethostname", func(*VM, []Value) Value {
		host, err := os.Hostname()
		if err != nil {
			return None
		}
		return Str(host)
	})
	def(d, "gethostbyname", guarded(policy.Network, "socket.gethostbyname", None, func(v *VM, args []Value) Value {
		host, ok := pathArg(args, 0)
		if !ok {
			return None
		}
		if ip := net.ParseIP(host); ip != nil {
			return Str(ip.String())
		}
		addrs, err := net.LookupHost(host)
		if err != nil {
			v.log.Debugf("socket.gethostbyname: %s", err)
			return None
		}
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
				return Str(a)
			}
		}
		if len(addrs) > 0 {
			return Str(addrs[0])
		}
		return None
	}))
	return d
}
