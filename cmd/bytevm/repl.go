package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/bytevm/compiler"
	"github.com/chazu/bytevm/scheduler"
	"github.com/chazu/bytevm/vm"
)

const (
	promptMain  = ">>> "
	promptCont  = "... "
	historyFile = ".bytevm_history"
)

// prompter reads one line of input after showing a prompt. liner.State
// satisfies it; tests and piped input use scanPrompter.
type prompter interface {
	Prompt(prompt string) (string, error)
}

type scanPrompter struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (p *scanPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.sc.Text(), nil
}

// runREPL reads statements until EOF or :quit and executes each in one
// persistent VM. Expression statements echo their value.
func runREPL(sched *scheduler.Scheduler, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%s (type :help for commands)\n", vm.Version)

	var in prompter
	if f, ok := stdin.(*os.File); ok && f == os.Stdin {
		ln := liner.NewLiner()
		defer ln.Close()
		ln.SetCtrlCAborts(true)

		home, _ := os.UserHomeDir()
		histPath := filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(histPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
		in = &history{State: ln}
	} else {
		in = &scanPrompter{sc: bufio.NewScanner(stdin), out: stdout}
	}

	machine := sched.NewVM()
	for {
		src, ok := readStatement(in)
		if !ok {
			fmt.Fprintln(stdout)
			return 0
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			if quit := replCommand(machine, trimmed, stdout); quit {
				return 0
			}
			continue
		}
		if h, ok := in.(*history); ok {
			h.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		}

		code, err := compiler.CompileSource(src+"\n", compiler.Interactive())
		if err != nil {
			fmt.Fprintf(stderr, "SyntaxError: %s\n", err)
			continue
		}
		machine.Load(code)
		_, err = machine.Run()
		if status, ok := vm.ExitCode(err); ok {
			return status
		}
		reportError(err, stderr)
		if sched.Mode() == scheduler.Scheduled {
			_ = sched.Run(context.Background())
		}
	}
}

type history struct {
	*liner.State
}

// readStatement collects lines until they form a complete unit. A block
// opener keeps reading until a blank line so that elif, else and further
// body lines can follow.
func readStatement(in prompter) (string, bool) {
	var b strings.Builder
	block := false
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := in.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			if b.Len() > 0 {
				return b.String(), true
			}
			return "", false
		}
		if err != nil {
			return "", false
		}

		if b.Len() == 0 {
			block = strings.HasSuffix(strings.TrimSpace(line), ":")
		} else {
			if block && strings.TrimSpace(line) == "" {
				return b.String(), true
			}
			b.WriteByte('\n')
		}
		b.WriteString(line)

		if block {
			continue
		}
		_, err = compiler.CompileSource(b.String()+"\n", compiler.Interactive())
		if compiler.IsIncomplete(err) {
			continue
		}
		return b.String(), true
	}
}

func replCommand(machine *vm.VM, cmd string, stdout io.Writer) (quit bool) {
	switch cmd {
	case ":quit", ":q", ":exit":
		return true
	case ":globals":
		for _, name := range machine.Globals() {
			val, _ := machine.Global(name)
			if val.IsFunction() && val.AsFunction().Native != nil {
				continue
			}
			if _, ok := machine.Module(name); ok {
				continue
			}
			fmt.Fprintf(stdout, "%s = %s\n", name, val.Repr())
		}
	case ":help":
		fmt.Fprintln(stdout, "  :globals   list user bindings")
		fmt.Fprintln(stdout, "  :quit      leave the REPL")
	default:
		fmt.Fprintf(stdout, "unknown command %s, type :help\n", cmd)
	}
	return false
}
