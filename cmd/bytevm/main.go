// bytevm - run, compile and inspect ByteVM programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bytevm/cache"
	"github.com/chazu/bytevm/compiler"
	"github.com/chazu/bytevm/image"
	"github.com/chazu/bytevm/manifest"
	"github.com/chazu/bytevm/policy"
	"github.com/chazu/bytevm/scheduler"
	"github.com/chazu/bytevm/vm"
)

var log = commonlog.GetLogger("bytevm.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	mode        string
	budget      int
	config      string
	verbosity   int
	deny        string
	interactive bool
	compileOnly bool
	output      string
	disassemble bool
	raw         bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("bytevm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", "", "Scheduler mode: native or scheduled")
	fs.IntVar(&o.budget, "budget", 0, "Instructions per task slice in scheduled mode")
	fs.StringVar(&o.config, "config", "", "Directory containing bytevm.toml (default: search upward from cwd)")
	fs.IntVar(&o.verbosity, "v", 0, "Log verbosity; higher values log more (overrides [log] verbosity)")
	fs.StringVar(&o.deny, "deny", "", "Comma-separated permissions to revoke (read,write,exec,network,env)")
	fs.BoolVar(&o.interactive, "i", false, "Start interactive REPL")
	fs.BoolVar(&o.compileOnly, "c", false, "Compile to a bytecode image instead of running (implied by -o)")
	fs.StringVar(&o.output, "o", "", "Image output path for -c (default: source name with .bvmi)")
	fs.BoolVar(&o.disassemble, "dis", false, "Print a bytecode listing instead of running")
	fs.BoolVar(&o.raw, "raw", false, "Write images without zstd compression")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bytevm [options] [script.py|image.bvmi] [args...]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  bytevm prog.py                  # Run a script\n")
		fmt.Fprintf(stderr, "  bytevm -mode scheduled prog.py  # Interleave spawned tasks on one thread\n")
		fmt.Fprintf(stderr, "  bytevm -c -o prog.bvmi prog.py  # Compile to an image\n")
		fmt.Fprintf(stderr, "  bytevm -dis prog.py             # Show bytecode\n")
		fmt.Fprintf(stderr, "  bytevm -i                       # Start REPL\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	m, err := loadManifest(o.config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	verbosity := m.Log.Verbosity
	if o.verbosity > 0 {
		verbosity = o.verbosity
	}
	commonlog.Configure(verbosity, m.LogPath())

	kit := policy.New()
	m.Apply(kit)
	if err := denyPermissions(kit, o.deny); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	rest := fs.Args()
	sched, err := newScheduler(m, &o, kit, stdout, rest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var c *cache.Cache
	if m.Cache.Backend != "" {
		store, err := cache.Open(m.Cache.Backend, m.CachePath())
		if err != nil {
			log.Warningf("cache disabled: %s", err)
		} else {
			c = cache.New(store)
			defer c.Close()
		}
	}

	path := ""
	if len(rest) > 0 {
		path = rest[0]
	} else if !o.interactive {
		path = m.EntryPath()
	}

	if path == "" {
		return runREPL(sched, stdin, stdout, stderr)
	}

	code, err := load(path, c)
	if err != nil {
		var se *compiler.SyntaxError
		if errors.As(err, &se) {
			fmt.Fprintf(stderr, "%s: SyntaxError: %s\n", path, se.Error())
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	switch {
	case o.disassemble:
		if err := vm.Disassemble(stdout, code); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case o.compileOnly || o.output != "":
		return writeImage(path, o.output, o.raw, code, stderr)
	}

	status := execute(sched, code, stderr)
	if o.interactive && status == 0 {
		return runREPL(sched, stdin, stdout, stderr)
	}
	return status
}

// loadManifest reads bytevm.toml from dir, or searches upward from the
// working directory when dir is empty. No manifest means defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return manifest.Default(), nil
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func denyPermissions(kit *policy.Kit, list string) error {
	if list == "" {
		return nil
	}
	for _, name := range strings.Split(list, ",") {
		p, err := policy.ParsePermission(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		kit.Set(p, false)
	}
	return nil
}

// newScheduler layers command-line settings over the manifest. argv, when
// given, replaces the manifest's sys.argv.
func newScheduler(m *manifest.Manifest, o *options, kit *policy.Kit, stdout io.Writer, argv []string) (*scheduler.Scheduler, error) {
	opts := m.SchedulerOptions()
	if o.mode != "" {
		mode, err := scheduler.ParseMode(o.mode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scheduler.WithMode(mode))
	}
	if o.budget > 0 {
		opts = append(opts, scheduler.WithBudget(o.budget))
	}
	vmOpts := append(m.VMOptions(), vm.WithPolicy(kit), vm.WithStdout(stdout))
	if len(argv) > 0 {
		vmOpts = append(vmOpts, vm.WithArgv(argv))
	}
	opts = append(opts, scheduler.WithVMOptions(vmOpts...))
	return scheduler.New(opts...), nil
}

// load returns the bytecode for path: decoded directly when the file is an
// image, otherwise compiled from source through the cache if one is open.
func load(path string, c *cache.Cache) ([]vm.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if image.IsImage(data) {
		return image.Decode(data)
	}
	if c != nil {
		code, key, err := c.Compile(string(data))
		if err == nil {
			log.Debugf("%s compiled as %s", path, key)
		}
		return code, err
	}
	return compiler.CompileSource(string(data))
}

func writeImage(src, out string, raw bool, code []vm.Instruction, stderr io.Writer) int {
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".bvmi"
	}
	var opts []image.Option
	if raw {
		opts = append(opts, image.Uncompressed())
	}
	if err := image.WriteFile(out, code, opts...); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	log.Infof("wrote %s", out)
	return 0
}

// execute runs the main program and every task it spawns, returning the
// process exit status.
func execute(sched *scheduler.Scheduler, code []vm.Instruction, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	if sched.Mode() == scheduler.Scheduled {
		mainTask := sched.Submit(code)
		if runErr := sched.Run(ctx); runErr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", runErr)
			return 130
		}
		_, err = mainTask.Result()
	} else {
		machine := sched.NewVM()
		machine.Load(code)
		_, err = machine.RunContext(ctx)
		sched.Wait()
	}
	return reportError(err, stderr)
}

func reportError(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if code, ok := vm.ExitCode(err); ok {
		return code
	}
	var rt *vm.RuntimeError
	if errors.As(err, &rt) {
		fmt.Fprintln(stderr, rt.Format())
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
