package timemachine

import (
	"strconv"
	"strings"
)

// DiffLine is one line of a hunk.
type DiffLine struct {
	// Kind is ' ' (context), '+' (added), '-' (removed) or '\\' (no newline marker).
	Kind    byte
	Content string
	// OldLine is 0 for additions.
	OldLine int
	// NewLine is 0 for deletions.
	NewLine int
}

// Hunk is a contiguous block of changes.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Header   string
	Lines    []DiffLine
}

// FileDiff is the diff of one file.
type FileDiff struct {
	OldPath   string
	NewPath   string
	Status    ChangeStatus
	Binary    bool
	Hunks     []Hunk
	Additions int
	Deletions int
}

// Path returns the new path, or the old one for deletions.
func (f *FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// Diff is the diff between two states of a project.
type Diff struct {
	From      string
	To        string
	Files     []FileDiff
	Additions int
	Deletions int
}

// File returns the diff of path, if present.
func (d *Diff) File(path string) (*FileDiff, bool) {
	for i := range d.Files {
		if d.Files[i].NewPath == path || d.Files[i].OldPath == path {
			return &d.Files[i], true
		}
	}
	return nil, false
}

// Empty reports whether the diff has no changes.
func (d *Diff) Empty() bool {
	return len(d.Files) == 0
}

// parseHunkRange parses "-12,3" or "+4" into start and count.
func parseHunkRange(s string) (start, count int) {
	s = s[1:]
	count = 1
	if a, b, ok := strings.Cut(s, ","); ok {
		start, _ = strconv.Atoi(a)
		count, _ = strconv.Atoi(b)
		return start, count
	}
	start, _ = strconv.Atoi(s)
	return start, count
}

// parseDiff parses unified git diff output.
func parseDiff(output string) *Diff {
	diff := &Diff{}
	if output == "" {
		return diff
	}

	var (
		file             *FileDiff
		hunk             *Hunk
		oldLine, newLine int
	)
	flushHunk := func() {
		if file != nil && hunk != nil {
			file.Hunks = append(file.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if file != nil {
			diff.Additions += file.Additions
			diff.Deletions += file.Deletions
			diff.Files = append(diff.Files, *file)
		}
		file = nil
	}

	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flushFile()
			file = &FileDiff{}
			parts := strings.SplitN(line, " ", 4)
			if len(parts) == 4 {
				file.OldPath = strings.TrimPrefix(parts[2], "a/")
				file.NewPath = strings.TrimPrefix(parts[3], "b/")
			}
			continue
		}
		if file == nil {
			continue
		}

		if hunk == nil {
			switch {
			case strings.HasPrefix(line, "new file mode "):
				file.Status = StatusAdded
				continue
			case strings.HasPrefix(line, "deleted file mode "):
				file.Status = StatusDeleted
				continue
			case strings.HasPrefix(line, "rename from "):
				file.Status = StatusRenamed
				file.OldPath = strings.TrimPrefix(line, "rename from ")
				continue
			case strings.HasPrefix(line, "rename to "):
				file.NewPath = strings.TrimPrefix(line, "rename to ")
				continue
			case strings.HasPrefix(line, "Binary files "):
				file.Binary = true
				continue
			case strings.HasPrefix(line, "--- "):
				if p := strings.TrimPrefix(line, "--- "); p != "/dev/null" {
					file.OldPath = strings.TrimPrefix(p, "a/")
				} else {
					file.OldPath = ""
				}
				continue
			case strings.HasPrefix(line, "+++ "):
				if p := strings.TrimPrefix(line, "+++ "); p != "/dev/null" {
					file.NewPath = strings.TrimPrefix(p, "b/")
				} else {
					file.NewPath = ""
				}
				continue
			}
		}

		if strings.HasPrefix(line, "@@ ") {
			flushHunk()
			hunk = &Hunk{Header: line}
			if parts := strings.SplitN(line, "@@", 3); len(parts) >= 2 {
				for _, r := range strings.Fields(parts[1]) {
					switch r[0] {
					case '-':
						hunk.OldStart, hunk.OldLines = parseHunkRange(r)
					case '+':
						hunk.NewStart, hunk.NewLines = parseHunkRange(r)
					}
				}
			}
			oldLine, newLine = hunk.OldStart, hunk.NewStart
			continue
		}

		if hunk == nil || line == "" {
			continue
		}

		dl := DiffLine{Kind: line[0], Content: line[1:]}
		switch line[0] {
		case '+':
			dl.NewLine = newLine
			newLine++
			file.Additions++
		case '-':
			dl.OldLine = oldLine
			oldLine++
			file.Deletions++
		case ' ':
			dl.OldLine, dl.NewLine = oldLine, newLine
			oldLine++
			newLine++
		case '\\':
			dl.Content = line
		default:
			continue
		}
		hunk.Lines = append(hunk.Lines, dl)
	}
	flushFile()
	return diff
}

// parseNameStatus parses git diff-tree --name-status -z output.
func parseNameStatus(output string) []FileChange {
	fields := strings.Split(strings.TrimRight(output, "\x00"), "\x00")
	var changes []FileChange
	for i := 0; i < len(fields); i++ {
		code := fields[i]
		if code == "" {
			continue
		}
		switch code[0] {
		case 'R', 'C':
			if i+2 >= len(fields) {
				return changes
			}
			changes = append(changes, FileChange{Path: fields[i+2], OldPath: fields[i+1], Status: StatusRenamed})
			i += 2
		default:
			if i+1 >= len(fields) {
				return changes
			}
			fc := FileChange{Path: fields[i+1], Status: StatusModified}
			switch code[0] {
			case 'A':
				fc.Status = StatusAdded
			case 'D':
				fc.Status = StatusDeleted
			}
			changes = append(changes, fc)
			i++
		}
	}
	return changes
}
