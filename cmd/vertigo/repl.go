package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/vertigo/bind"
	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive session against a local Vertx",
	Long: `Start an interactive session against a local Vertx.

Each line is a call:

  [name =] target method [arg, arg, ...]

The target is vertx, a static class (Buffer, Pump, MultiMap) or $name of a
handle saved earlier; $_ is the last handle returned. Arguments are JSON
values separated by commas and may use $name too. A callback argument is
written {"$callback":"label"}; its events are printed as they arrive.

  b = Buffer buffer "hello"
  $b appendString " world"
  $b toString
  vertx setTimer 100, {"$callback":"tick"}

Commands: .classes, .methods <target>, .vars, exit.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.vertigo_history)")
	replCmd.Flags().Duration("call-timeout", 30*time.Second, "Time to wait for each response")
	rootCmd.AddCommand(replCmd)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	handleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0C674"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	varRe   = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)
)

// repl evaluates call lines through a protocol session, so what it prints
// is exactly what a remote caller would receive.
type repl struct {
	rt      *bind.Runtime
	session *bind.Session
	timeout time.Duration

	outMu sync.Mutex
	out   io.Writer

	responses chan gjson.Result
	nextID    int64
	vars      map[string]string // name -> raw handle reference
}

func newRepl(rt *bind.Runtime, out io.Writer, timeout time.Duration) *repl {
	r := &repl{
		rt:        rt,
		timeout:   timeout,
		out:       out,
		responses: make(chan gjson.Result, 16),
		vars:      make(map[string]string),
	}
	r.session = rt.NewSession(r.receive)
	return r
}

func (r *repl) Close() {
	r.session.Close()
}

func (r *repl) receive(msg []byte) error {
	res := gjson.ParseBytes(append([]byte(nil), msg...))
	if cb := res.Get("callback"); cb.Exists() {
		r.println(eventStyle.Render("<- "+cb.String()) + " " + format(res.Get("args")))
		return nil
	}
	select {
	case r.responses <- res:
	default:
		// Nobody is waiting: the call already timed out.
	}
	return nil
}

func (r *repl) println(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintln(r.out, s)
}

// eval runs one line. Call failures are printed, not returned.
func (r *repl) eval(line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == ".classes":
		r.println(strings.Join(bind.Classes(), " "))
		return nil
	case line == ".vars":
		r.printVars()
		return nil
	case strings.HasPrefix(line, ".methods"):
		return r.methods(strings.TrimSpace(strings.TrimPrefix(line, ".methods")))
	case line == "help":
		r.println(helpStyle.Render("[name =] target method [args...]   .classes  .methods <target>  .vars  exit"))
		return nil
	}

	name := ""
	if before, after, ok := strings.Cut(line, "="); ok && identRe.MatchString(strings.TrimSpace(before)) {
		name, line = strings.TrimSpace(before), strings.TrimSpace(after)
	}
	target, rest, _ := strings.Cut(line, " ")
	method, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if method == "" {
		return fmt.Errorf("usage: [name =] target method [args...]")
	}
	target, err := r.resolve(target)
	if err != nil {
		return err
	}
	raw := "[" + varRe.ReplaceAllStringFunc(args, r.substitute) + "]"
	if !gjson.Valid(raw) {
		return fmt.Errorf("arguments are not JSON: %s", args)
	}

	r.nextID++
	id := r.nextID
	req, err := json.Marshal(struct {
		ID     int64           `json:"id"`
		Target string          `json:"target"`
		Method string          `json:"method"`
		Args   json.RawMessage `json:"args"`
	}{id, target, method, json.RawMessage(raw)})
	if err != nil {
		return err
	}
	r.session.Handle(req)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case res := <-r.responses:
			if res.Get("id").Int() == id {
				r.show(name, res)
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no response to %s after %s", method, r.timeout)
		}
	}
}

func (r *repl) show(name string, res gjson.Result) {
	if e := res.Get("error"); e.Exists() {
		r.println(errorStyle.Render(fmt.Sprintf("%s/%s: %s",
			e.Get("phase").String(), e.Get("kind").String(), e.Get("message").String())))
		return
	}
	data := res.Get("data")
	if data.Get(`\$handle`).Exists() {
		r.vars["_"] = data.Raw
		if name != "" {
			r.vars[name] = data.Raw
		}
	} else if name != "" {
		r.vars[name] = data.Raw
	}
	r.println(format(data))
}

// resolve maps $name to the handle id it refers to.
func (r *repl) resolve(target string) (string, error) {
	if !strings.HasPrefix(target, "$") {
		return target, nil
	}
	raw, ok := r.vars[target[1:]]
	if !ok {
		return "", fmt.Errorf("unknown variable %s", target)
	}
	id := gjson.Get(raw, `\$handle`)
	if !id.Exists() {
		return "", fmt.Errorf("%s is not a handle", target)
	}
	return id.String(), nil
}

func (r *repl) substitute(ref string) string {
	if raw, ok := r.vars[ref[1:]]; ok {
		return raw
	}
	return ref
}

func (r *repl) methods(target string) error {
	id, err := r.resolve(target)
	if err != nil {
		return err
	}
	o, ok := r.rt.Lookup(id)
	if !ok {
		return fmt.Errorf("unknown target %q", target)
	}
	r.println(handleStyle.Render(o.Kind()) + " " + strings.Join(o.Methods(), " "))
	return nil
}

func (r *repl) printVars() {
	names := make([]string, 0, len(r.vars))
	for name := range r.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.println("$" + name + " = " + format(gjson.Parse(r.vars[name])))
	}
}

// format renders a wire value, with handles shortened to Kind@id.
func format(v gjson.Result) string {
	if id := v.Get(`\$handle`); id.Exists() && v.IsObject() {
		return handleStyle.Render(v.Get(`\$type`).String() + "@" + id.String())
	}
	out := strings.TrimRight(string(pretty.PrettyOptions([]byte(v.Raw), &pretty.Options{Width: 80, Indent: "  "})), "\n")
	if out == "" {
		out = "null"
	}
	return resultStyle.Render(out)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	timeout, _ := cmd.Flags().GetDuration("call-timeout")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".vertigo_history")
	}

	in, err := start(cmd)
	if err != nil {
		return err
	}
	defer in.stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	r := newRepl(in.rt, rl.Stdout(), timeout)
	defer r.Close()

	fmt.Fprintln(os.Stderr, titleStyle.Render("vertigo "+buildVersion())+" "+
		helpStyle.Render("type 'help' for syntax, 'exit' or Ctrl+D to quit"))

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString(" ")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := r.eval(line); err != nil {
			r.println(errorStyle.Render("Error: " + err.Error()))
		}
	}
}
