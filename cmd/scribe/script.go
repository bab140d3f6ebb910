package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dshills/scribe/internal/engine"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

// errUnknownCommand is returned for a script verb with no mapping.
var errUnknownCommand = errors.New("unknown command")

// scriptLine is one parsed line of an edit script.
//
//	verb[!] [args]
//
// A trailing ! on the verb forces the command past unsaved-change checks.
type scriptLine struct {
	verb  string
	force bool
	args  string
}

func splitLine(line string) scriptLine {
	line = strings.TrimSpace(line)
	verb, args, _ := strings.Cut(line, " ")
	force := strings.HasSuffix(verb, "!")
	return scriptLine{
		verb:  strings.ToLower(strings.TrimSuffix(verb, "!")),
		force: force,
		args:  strings.TrimSpace(args),
	}
}

type commandParser func(l scriptLine) (engine.Command, error)

// fixed maps a verb to a command without arguments.
func fixed(c engine.Command) commandParser {
	return func(scriptLine) (engine.Command, error) { return c, nil }
}

var scriptCommands = map[string]commandParser{
	// Editing
	"insert":    textVerb(func(s string) engine.Command { return engine.InsertText{Text: s} }),
	"paste":     textVerb(func(s string) engine.Command { return engine.Paste{Text: s} }),
	"newline":   fixed(engine.InsertNewline{}),
	"backspace": fixed(engine.DeleteBackward{}),
	"delete":    fixed(engine.DeleteForward{}),
	"dd":        fixed(engine.DeleteLine{}),
	"duplicate": fixed(engine.DuplicateLine{}),
	"up":        fixed(engine.MoveLinesUp{}),
	"down":      fixed(engine.MoveLinesDown{}),
	"join":      fixed(engine.JoinLines{}),
	"sort":      parseSort,
	"upper":     fixed(engine.ChangeCase{Case: engine.CaseUpper}),
	"lower":     fixed(engine.ChangeCase{Case: engine.CaseLower}),
	"title":     fixed(engine.ChangeCase{Case: engine.CaseTitle}),
	"transpose": fixed(engine.TransposeChars{}),
	"indent":    fixed(engine.Indent{}),
	"dedent":    fixed(engine.Dedent{}),
	"trim":      fixed(engine.TrimTrailingWhitespace{}),
	"overwrite": fixed(engine.ToggleOverwrite{}),
	"cut":       fixed(engine.Cut{}),
	"copy":      fixed(engine.Copy{}),
	"undo":      fixed(engine.Undo{}),
	"redo":      fixed(engine.Redo{}),

	// Search and replace
	"find":        textVerb(func(s string) engine.Command { return engine.Find{Query: s} }),
	"find-next":   fixed(engine.FindNext{}),
	"find-prev":   fixed(engine.FindPrevious{}),
	"replace":     parseReplace(func(f, r string) engine.Command { return engine.ReplaceNext{Find: f, Replace: r} }),
	"replace-all": parseReplace(func(f, r string) engine.Command { return engine.ReplaceAll{Find: f, Replace: r} }),
	"replace-sel": parseReplace(func(f, r string) engine.Command { return engine.ReplaceInSelection{Find: f, Replace: r} }),

	// Bookmarks
	"mark":        parseMark,
	"unmark":      parseUnmark,
	"jump":        parseJump,
	"next-mark":   fixed(engine.NextBookmark{}),
	"prev-mark":   fixed(engine.PreviousBookmark{}),
	"clear-marks": fixed(engine.ClearBookmarks{}),

	// Navigation and selection
	"move":         parseMove(false),
	"select":       parseMove(true),
	"goto":         parseGoto,
	"bracket":      fixed(engine.JumpToMatchingBracket{}),
	"cursor":       parseAddCursor,
	"cursor-above": fixed(engine.AddCursorAbove{}),
	"cursor-below": fixed(engine.AddCursorBelow{}),
	"uncursor":     parseRemoveCursor,
	"single":       fixed(engine.ClearSecondaryCursors{}),
	"escape":       fixed(engine.Escape{}),
	"select-all":   fixed(engine.SelectAll{}),
	"select-word":  fixed(engine.SelectWord{}),
	"select-line":  fixed(engine.SelectLine{}),

	// Files
	"open":     parseOpen,
	"save":     fixed(engine.Save{}),
	"save-as":  parseSaveAs,
	"new":      func(l scriptLine) (engine.Command, error) { return engine.NewBuffer{Force: l.force}, nil },
	"close":    func(l scriptLine) (engine.Command, error) { return engine.Close{Force: l.force}, nil },
	"reload":   func(l scriptLine) (engine.Command, error) { return engine.Reload{Force: l.force}, nil },
	"readonly": fixed(engine.ToggleReadOnly{}),

	// Time machine
	"restore": parseRestore,
	"preview": parsePreview,
	"cleanup": fixed(engine.CleanupHistory{}),
	"stats":   fixed(engine.ShowHistoryStats{}),
	"log":     parseBrowse,
}

// parseCommand turns one script line into an editor command.
func parseCommand(line string) (engine.Command, error) {
	l := splitLine(line)
	parse, ok := scriptCommands[l.verb]
	if !ok {
		return nil, fmt.Errorf("%w %q", errUnknownCommand, l.verb)
	}
	return parse(l)
}

// scriptVerbs returns the known verbs, sorted.
func scriptVerbs() []string {
	verbs := make([]string, 0, len(scriptCommands))
	for v := range scriptCommands {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// unescape expands \n, \t and the other Go escapes in script text.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	out, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("bad escape in %q", s)
	}
	return out, nil
}

// textVerb parses a verb whose argument is escaped text.
func textVerb(build func(string) engine.Command) commandParser {
	return func(l scriptLine) (engine.Command, error) { return textCommand(l, build) }
}

func textCommand(l scriptLine, build func(string) engine.Command) (engine.Command, error) {
	if l.args == "" {
		return nil, fmt.Errorf("%s needs text", l.verb)
	}
	text, err := unescape(l.args)
	if err != nil {
		return nil, err
	}
	return build(text), nil
}

func parseSort(l scriptLine) (engine.Command, error) {
	var c engine.SortLines
	for _, f := range strings.Fields(l.args) {
		switch f {
		case "-n", "numeric":
			c.Numerical = true
		case "-r", "reverse":
			c.Reverse = true
		default:
			return nil, fmt.Errorf("sort: unknown flag %q", f)
		}
	}
	return c, nil
}

func parseMoveKind(name string) (cursor.MoveKind, bool) {
	for k := cursor.MoveCharLeft; k <= cursor.MoveFileEnd; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

func parseMove(extend bool) commandParser {
	return func(l scriptLine) (engine.Command, error) {
		kind, ok := parseMoveKind(l.args)
		if !ok {
			return nil, fmt.Errorf("%s: unknown movement %q", l.verb, l.args)
		}
		return engine.Move{Kind: kind, Extend: extend}, nil
	}
}

// positiveInts parses n one-based numbers.
func positiveInts(l scriptLine, n int) ([]int, error) {
	fields := strings.Fields(l.args)
	if len(fields) != n {
		return nil, fmt.Errorf("%s needs %d number(s)", l.verb, n)
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("%s: %q is not a positive number", l.verb, f)
		}
		out[i] = v
	}
	return out, nil
}

func parseGoto(l scriptLine) (engine.Command, error) {
	n, err := positiveInts(l, 1)
	if err != nil {
		return nil, err
	}
	return engine.GotoLine{Line: n[0] - 1}, nil
}

func parseAddCursor(l scriptLine) (engine.Command, error) {
	n, err := positiveInts(l, 2)
	if err != nil {
		return nil, err
	}
	return engine.AddCursor{Pos: buffer.Pos(n[0]-1, n[1]-1)}, nil
}

func parseRemoveCursor(l scriptLine) (engine.Command, error) {
	n, err := positiveInts(l, 1)
	if err != nil {
		return nil, err
	}
	return engine.RemoveCursor{Index: n[0] - 1}, nil
}

// parseReplace reads "/find/replace/" where the first character is the
// separator and the trailing one is optional.
func parseReplace(build func(find, replace string) engine.Command) commandParser {
	return func(l scriptLine) (engine.Command, error) {
		if l.args == "" {
			return nil, fmt.Errorf("%s needs /find/replace/", l.verb)
		}
		sep, size := utf8.DecodeRuneInString(l.args)
		parts := strings.Split(l.args[size:], string(sep))
		if len(parts) == 3 && parts[2] == "" {
			parts = parts[:2]
		}
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("%s needs /find/replace/", l.verb)
		}
		find, err := unescape(parts[0])
		if err != nil {
			return nil, err
		}
		replace, err := unescape(parts[1])
		if err != nil {
			return nil, err
		}
		return build(find, replace), nil
	}
}

// parseMark toggles a bookmark, or names one with "mark <name>".
func parseMark(l scriptLine) (engine.Command, error) {
	if l.args == "" {
		return engine.ToggleBookmark{}, nil
	}
	return engine.AddNamedBookmark{Name: l.args}, nil
}

func parseUnmark(l scriptLine) (engine.Command, error) {
	n, err := positiveInts(l, 1)
	if err != nil {
		return nil, err
	}
	return engine.RemoveBookmark{Index: n[0] - 1}, nil
}

// parseJump reads "jump <number>" or "jump <name>".
func parseJump(l scriptLine) (engine.Command, error) {
	if l.args == "" {
		return nil, errors.New("jump needs a bookmark number or name")
	}
	if n, err := strconv.Atoi(l.args); err == nil {
		if n < 1 {
			return nil, fmt.Errorf("jump: %q is not a positive number", l.args)
		}
		return engine.JumpToBookmark{Index: n - 1}, nil
	}
	return engine.JumpToNamedBookmark{Name: l.args}, nil
}

func parseOpen(l scriptLine) (engine.Command, error) {
	if l.args == "" {
		return nil, errors.New("open needs a path")
	}
	return engine.Open{Path: l.args, Force: l.force}, nil
}

func parseSaveAs(l scriptLine) (engine.Command, error) {
	if l.args == "" {
		return nil, errors.New("save-as needs a path")
	}
	return engine.SaveAs{Path: l.args}, nil
}

// parseRestore reads "restore[!] [commit [file]]". Without a commit the one
// selected in the history browser is used.
func parseRestore(l scriptLine) (engine.Command, error) {
	commit, file, _ := strings.Cut(l.args, " ")
	return engine.RestoreFile{Commit: commit, File: strings.TrimSpace(file), Confirm: l.force}, nil
}

func parsePreview(l scriptLine) (engine.Command, error) {
	commit, file, _ := strings.Cut(l.args, " ")
	return engine.PreviewRestore{Commit: commit, File: strings.TrimSpace(file)}, nil
}

// parseBrowse maps "log [action [arg]]" to history browser commands. A bare
// "log" opens the browser.
func parseBrowse(l scriptLine) (engine.Command, error) {
	action, arg, _ := strings.Cut(l.args, " ")
	arg = strings.TrimSpace(arg)
	switch action {
	case "", "open":
		return engine.OpenHistoryBrowser{}, nil
	case "close":
		return engine.CloseHistoryBrowser{}, nil
	case "next":
		return engine.HistoryNext{}, nil
	case "prev":
		return engine.HistoryPrevious{}, nil
	case "first":
		return engine.HistoryFirst{}, nil
	case "last":
		return engine.HistoryLast{}, nil
	case "pgup":
		return engine.HistoryPageUp{}, nil
	case "pgdn":
		return engine.HistoryPageDown{}, nil
	case "select":
		n, err := positiveInts(scriptLine{verb: "log select", args: arg}, 1)
		if err != nil {
			return nil, err
		}
		return engine.HistorySelect{Index: n[0] - 1}, nil
	case "files":
		return engine.HistoryToggleFileList{}, nil
	case "file":
		return engine.HistorySelectFile{Path: arg}, nil
	case "diff":
		return engine.HistoryShowDiff{}, nil
	case "base":
		return engine.HistorySetBase{}, nil
	case "unbase":
		return engine.HistoryClearBase{}, nil
	case "search":
		if arg == "" {
			return engine.HistoryClearSearch{}, nil
		}
		return engine.HistorySearch{Query: arg}, nil
	case "filter":
		if arg == "" {
			return engine.HistoryClearFilter{}, nil
		}
		return engine.HistoryFilterByFile{Substr: arg}, nil
	case "annotate":
		return engine.HistoryAnnotate{Note: arg}, nil
	case "refresh":
		return engine.HistoryRefresh{}, nil
	}
	return nil, fmt.Errorf("log: unknown action %q", action)
}
