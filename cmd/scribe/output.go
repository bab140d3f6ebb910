package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/dshills/scribe/internal/engine"
	"github.com/dshills/scribe/internal/timemachine"
)

var (
	hashColor   = color.New(color.FgYellow)
	addColor    = color.New(color.FgGreen)
	removeColor = color.New(color.FgRed)
	headerColor = color.New(color.FgCyan)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.Faint)
)

// printer writes command results as colored text or YAML.
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

// structured writes v as YAML and reports true when the YAML format is
// selected. Text output is left to the caller.
func (p *printer) structured(v any) (bool, error) {
	if p.format != "yaml" {
		return false, nil
	}
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return true, fmt.Errorf("encoding output: %w", err)
	}
	return true, enc.Close()
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) status(msg engine.StatusMessage) {
	if msg.Message == "" {
		return
	}
	switch msg.Level {
	case engine.StatusWarn:
		warnColor.Fprintln(p.w, msg.Message)
	case engine.StatusError:
		errorColor.Fprintln(p.w, msg.Message)
	default:
		dimColor.Fprintln(p.w, msg.Message)
	}
}

// commitRecord is the YAML form of a commit.
type commitRecord struct {
	Hash       string    `yaml:"hash"`
	Subject    string    `yaml:"subject"`
	Author     string    `yaml:"author"`
	Time       time.Time `yaml:"time"`
	Annotation string    `yaml:"annotation,omitempty"`
}

func toCommitRecords(commits []timemachine.Commit) []commitRecord {
	out := make([]commitRecord, len(commits))
	for i, c := range commits {
		out[i] = commitRecord{
			Hash:       c.Hash,
			Subject:    c.Subject,
			Author:     c.AuthorName,
			Time:       c.Timestamp,
			Annotation: c.Annotation,
		}
	}
	return out
}

func (p *printer) commits(commits []timemachine.Commit) error {
	if ok, err := p.structured(toCommitRecords(commits)); ok {
		return err
	}
	if len(commits) == 0 {
		p.printf("No history\n")
		return nil
	}
	for _, c := range commits {
		p.printf("%s %s %s", hashColor.Sprint(c.ShortHash), c.Timestamp.Format("2006-01-02 15:04:05"), c.Subject)
		if c.Annotation != "" {
			p.printf(" %s", headerColor.Sprintf("[%s]", c.Annotation))
		}
		p.printf("\n")
	}
	return nil
}

func (p *printer) fileDiff(d *timemachine.FileDiff) {
	headerColor.Fprintf(p.w, "--- %s\n+++ %s\n", d.OldPath, d.NewPath)
	if d.Binary {
		p.printf("Binary files differ\n")
		return
	}
	for _, h := range d.Hunks {
		headerColor.Fprintf(p.w, "@@ -%d,%d +%d,%d @@ %s\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines, h.Header)
		for _, l := range h.Lines {
			switch l.Kind {
			case '+':
				addColor.Fprintf(p.w, "+%s\n", l.Content)
			case '-':
				removeColor.Fprintf(p.w, "-%s\n", l.Content)
			case '\\':
				dimColor.Fprintf(p.w, "\\%s\n", l.Content)
			default:
				p.printf(" %s\n", l.Content)
			}
		}
	}
}

// statsRecord is the YAML form of history statistics.
type statsRecord struct {
	Commits        int       `yaml:"commits"`
	RepoSize       int64     `yaml:"repo_size"`
	Oldest         time.Time `yaml:"oldest,omitempty"`
	Newest         time.Time `yaml:"newest,omitempty"`
	Files          int       `yaml:"files"`
	LargeFiles     int       `yaml:"large_files"`
	LargeFileBytes int64     `yaml:"large_file_bytes"`
}

func (p *printer) stats(s timemachine.HistoryStats) error {
	rec := statsRecord{
		Commits:        s.TotalCommits,
		RepoSize:       s.RepoSize,
		Oldest:         s.Oldest,
		Newest:         s.Newest,
		Files:          len(s.Files),
		LargeFiles:     s.LargeFileCount,
		LargeFileBytes: s.LargeFileBytes,
	}
	if ok, err := p.structured(rec); ok {
		return err
	}
	p.printf("Commits:      %d\n", rec.Commits)
	p.printf("Size:         %s\n", humanBytes(rec.RepoSize))
	if !rec.Oldest.IsZero() {
		p.printf("First commit: %s\n", rec.Oldest.Format(time.RFC3339))
		p.printf("Last commit:  %s\n", rec.Newest.Format(time.RFC3339))
	}
	p.printf("Files:        %d\n", rec.Files)
	if rec.LargeFiles > 0 {
		warnColor.Fprintf(p.w, "Large files:  %d (%s)\n", rec.LargeFiles, humanBytes(rec.LargeFileBytes))
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", max(n, 0))
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
