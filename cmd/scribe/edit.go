package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/scribe/internal/engine"
	"github.com/dshills/scribe/internal/historybrowser"
	"github.com/dshills/scribe/internal/safety"
)

// historyWait bounds how long the editor waits for a save to reach the
// history before reading the next command.
const historyWait = 30 * time.Second

func newEditCmd(g *globals) *cobra.Command {
	var (
		script   string
		readOnly bool
	)
	cmd := &cobra.Command{
		Use:   "edit [file]",
		Short: "Edit a file with line commands",
		Long: `Edit a file by typing editor commands, one per line, or by running
them from a script. Type "help" for the list of commands.

Examples:
  scribe edit notes.txt
  scribe edit main.go -s refactor.scribe
  printf 'goto 3\ndd\nsave\n' | scribe edit notes.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := io.Reader(os.Stdin)
			interactive := isInteractive(os.Stdin)
			if script != "" {
				f, err := os.Open(script)
				if err != nil {
					return fmt.Errorf("opening script: %w", err)
				}
				defer f.Close()
				in, interactive = f, false
			}

			s, err := g.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			r := &repl{g: g, s: s, out: g.out, interactive: interactive}
			if len(args) == 1 {
				if err := r.run(engine.Open{Path: args[0]}); err != nil {
					return err
				}
				if readOnly {
					_ = r.run(engine.ToggleReadOnly{})
				}
			}
			r.announceRecovery()
			return r.loop(ctx, in)
		},
	}
	cmd.Flags().StringVarP(&script, "script", "s", "", "read commands from this file instead of stdin")
	cmd.Flags().BoolVarP(&readOnly, "readonly", "R", false, "open the file read-only")
	return cmd
}

// repl reads editor commands and prints their outcome.
type repl struct {
	g           *globals
	s           *session
	out         *printer
	interactive bool

	clipboard string
	recovery  *safety.RecoveryRecord
	lastShown string
}

var errQuit = errors.New("quit")

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for {
		if r.interactive {
			r.prompt()
		}
		if !scanner.Scan() {
			break
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		err := r.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil && !r.interactive:
			return fmt.Errorf("line %d: %w", lineNo, err)
		case err != nil:
			errorColor.Fprintln(r.out.w, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if r.s.editor.Metadata().Dirty {
		warnColor.Fprintln(r.out.w, "Exiting with unsaved changes")
	}
	return nil
}

func (r *repl) prompt() {
	meta := r.s.editor.Metadata()
	name := meta.Path
	if name == "" {
		name = "[No Name]"
	}
	mark := ""
	if meta.Dirty {
		mark = "*"
	}
	fmt.Fprintf(r.out.w, "%s%s> ", headerColor.Sprint(name), mark)
}

// exec runs one line: a built-in of the loop or an editor command.
func (r *repl) exec(line string) error {
	l := splitLine(line)
	switch l.verb {
	case "q", "quit":
		if r.s.editor.Metadata().Dirty && !l.force {
			return errors.New("unsaved changes (use quit! to discard)")
		}
		return errQuit
	case "help":
		r.out.printf("Commands: %s\n", strings.Join(scriptVerbs(), " "))
		r.out.printf("Also: print [from [to]], cursors, marks, recover, help, quit\n")
		return nil
	case "print", "p":
		return r.print(l)
	case "cursors":
		for i, c := range r.s.editor.Cursors().All() {
			r.out.printf("%d %s\n", i+1, c)
		}
		return nil
	case "marks":
		for i, b := range r.s.editor.Bookmarks() {
			r.out.printf("%d %d:%d %s\n", i+1, b.Pos.Line+1, b.Pos.Column+1, b.Name)
		}
		return nil
	case "recover":
		if r.recovery == nil {
			return errors.New("nothing to recover")
		}
		rec := r.recovery
		if err := r.run(engine.RecoverFrom{Record: rec, Force: l.force}); err != nil {
			return err
		}
		r.recovery = nil
		return nil
	case "paste":
		if l.args == "" {
			return r.run(engine.Paste{Text: r.clipboard})
		}
	}

	c, err := parseCommand(line)
	if err != nil {
		return err
	}
	return r.run(c)
}

// run applies c and reports its effect.
func (r *repl) run(c engine.Command) error {
	eff, err := r.s.editor.Apply(c)
	if err != nil {
		// The caller prints err; the status line holds the same text.
		r.lastShown = statusKey(r.s.editor.Snapshot(engine.Viewport{Height: 1}).Status)
		return err
	}
	if eff.HasClipboard {
		r.clipboard = eff.Clipboard
	}
	if eff.Recovery != nil {
		r.recovery = eff.Recovery
		warnColor.Fprintf(r.out.w, "A newer unsaved version from %s exists (type \"recover\" to restore it)\n",
			eff.Recovery.Timestamp.Format(time.DateTime))
	}
	if eff.Conflict {
		warnColor.Fprintln(r.out.w, "The file changed on disk while you had unsaved changes (reload! to take the disk version)")
	}
	if eff.Preview != nil {
		if eff.Preview.Unchanged {
			r.out.printf("%s is unchanged since %s\n", eff.Preview.File, shortHash(eff.Preview.Commit))
		} else if eff.Preview.Diff != nil {
			r.out.fileDiff(eff.Preview.Diff)
		}
	}
	if eff.Stats != nil {
		if err := r.out.stats(*eff.Stats); err != nil {
			return err
		}
	}

	snap := r.s.editor.Snapshot(engine.Viewport{})
	if snap.History != nil {
		r.showBrowser(*snap.History)
	}
	r.showStatus(snap.Status)

	switch c.(type) {
	case engine.Save, engine.SaveAs:
		r.awaitHistory()
	}
	r.drainStatus()
	return nil
}

// showStatus prints the status line when it changed.
func (r *repl) showStatus(msg engine.StatusMessage) {
	key := statusKey(msg)
	if key == r.lastShown {
		return
	}
	r.lastShown = key
	r.out.status(msg)
}

func statusKey(msg engine.StatusMessage) string {
	return msg.Time.String() + msg.Message
}

// awaitHistory waits for the background commit of a save.
func (r *repl) awaitHistory() {
	if !r.g.cfg.History.Enabled || r.s.editor.Metadata().Path == "" {
		return
	}
	timeout := time.After(historyWait)
	for {
		select {
		case msg := <-r.s.editor.Status():
			r.out.status(msg)
			if strings.HasPrefix(msg.Message, "History:") {
				return
			}
		case <-timeout:
			warnColor.Fprintln(r.out.w, "History commit still running")
			return
		}
	}
}

// drainStatus prints background messages that are already waiting.
func (r *repl) drainStatus() {
	for {
		select {
		case msg := <-r.s.editor.Status():
			r.out.status(msg)
		default:
			return
		}
	}
}

// announceRecovery reports unsaved buffers left behind by a crash.
func (r *repl) announceRecovery() {
	if r.recovery != nil {
		return
	}
	rec, ok := r.s.editor.PendingRecovery()
	if !ok {
		return
	}
	r.recovery = rec
	name := rec.Path
	if name == "" {
		name = rec.Name
	}
	warnColor.Fprintf(r.out.w, "Found unsaved work for %s from %s (type \"recover\" to restore it)\n",
		name, rec.Timestamp.Format(time.DateTime))
}

// print writes buffer lines, one-based and inclusive. Without arguments it
// prints the whole buffer.
func (r *repl) print(l scriptLine) error {
	content := r.s.editor.Content()
	from, to := 1, content.LineCount()
	switch fields := strings.Fields(l.args); len(fields) {
	case 0:
	case 1, 2:
		n, err := positiveInts(scriptLine{verb: "print", args: l.args}, len(fields))
		if err != nil {
			return err
		}
		from, to = n[0], n[0]
		if len(n) == 2 {
			to = n[1]
		}
	default:
		return errors.New("print takes at most two line numbers")
	}
	to = min(to, content.LineCount())
	width := len(fmt.Sprint(to))
	for i := from; i <= to; i++ {
		r.out.printf("%s %s\n", dimColor.Sprintf("%*d", width, i), content.Line(i-1))
	}
	return nil
}

func (r *repl) showBrowser(v historybrowser.View) {
	if len(v.Commits) == 0 {
		r.out.printf("No history\n")
		return
	}
	headerColor.Fprintf(r.out.w, "History of %s (page %d/%d, %d commits)\n", v.Project, v.Page+1, max(v.Pages, 1), v.Total)
	for i, c := range v.Commits {
		marker := "  "
		if i == v.Selected {
			marker = "> "
		}
		r.out.printf("%s%s %s %s", marker, hashColor.Sprint(c.ShortHash), c.Timestamp.Format(time.DateTime), c.Subject)
		if c.Annotation != "" {
			r.out.printf(" [%s]", c.Annotation)
		}
		r.out.printf("\n")
	}
	if v.FileListVisible {
		for _, f := range v.Files {
			marker := "    "
			if f.Path == v.SelectedFile {
				marker = "  * "
			}
			r.out.printf("%s%s %s\n", marker, f.Status.Letter(), f.Path)
		}
	}
	switch {
	case v.Diff.FileDiff != nil:
		r.out.fileDiff(v.Diff.FileDiff)
	case v.Diff.Diff != nil:
		for i := range v.Diff.Diff.Files {
			r.out.fileDiff(&v.Diff.Diff.Files[i])
		}
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
