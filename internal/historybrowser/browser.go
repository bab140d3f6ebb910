package historybrowser

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/logging"
	"github.com/dshills/scribe/internal/timemachine"
)

// DefaultPageSize is the number of commits per page.
const DefaultPageSize = timemachine.DefaultPageSize

// Source is the query side of the history manager.
// *timemachine.Manager satisfies it.
type Source interface {
	ListCommits(ctx context.Context, project string, page, pageSize int) (timemachine.Page, error)
	SearchCommits(ctx context.Context, project, query string) ([]timemachine.Commit, error)
	CommitsTouching(ctx context.Context, project, substr string) ([]timemachine.Commit, error)
	FilesChanged(ctx context.Context, project, commit string) ([]timemachine.FileChange, error)
	Diff(ctx context.Context, project, from, to string) (*timemachine.Diff, error)
	FileDiff(ctx context.Context, project, file, from, to string) (*timemachine.FileDiff, error)
	Annotate(ctx context.Context, project, commit, note string) error
}

// Browser is the history view state holder.
type Browser struct {
	src      Source
	log      *logging.Logger
	pageSize int

	state   State
	project string

	commits  []timemachine.Commit
	page     int
	total    int
	selected int

	// results holds the full list while a search or filter is active.
	results []timemachine.Commit
	query   string
	filter  string

	files        []timemachine.FileChange
	filesFor     string
	selectedFile string
	diff         DiffState
	base         *timemachine.Commit
}

// Option configures a Browser.
type Option func(*Browser)

// WithPageSize sets the number of commits per page.
func WithPageSize(n int) Option {
	return func(b *Browser) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Browser) { b.log = logging.OrNop(l).WithComponent("historybrowser") }
}

// New creates a closed browser over src.
func New(src Source, opts ...Option) *Browser {
	b := &Browser{src: src, pageSize: DefaultPageSize, log: logging.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state.
func (b *Browser) State() State { return b.state }

// IsOpen reports whether the browser is in any state but Closed.
func (b *Browser) IsOpen() bool { return b.state != StateClosed }

// Project returns the project being browsed.
func (b *Browser) Project() string { return b.project }

// Open shows the first page of project's history with the newest commit
// selected.
func (b *Browser) Open(ctx context.Context, project string) error {
	b.reset()
	b.project = project
	if err := b.loadPage(ctx, 0); err != nil {
		b.reset()
		return err
	}
	b.state = StateOpen
	b.log.Debug("history browser opened", zap.String("project", project), zap.Int("commits", b.total))
	return nil
}

// Close drops all browser state.
func (b *Browser) Close() {
	if b.state != StateClosed {
		b.log.Debug("history browser closed", zap.String("project", b.project))
	}
	b.reset()
}

func (b *Browser) reset() {
	*b = Browser{src: b.src, log: b.log, pageSize: b.pageSize}
}

func (b *Browser) requireOpen(op string) error {
	if b.state == StateClosed {
		return editorerr.Newf(editorerr.KindInvalidOperation, op, "", "history browser is closed")
	}
	return nil
}

func (b *Browser) filtered() bool {
	return b.query != "" || b.filter != ""
}

func (b *Browser) pages() int {
	if b.total == 0 {
		return 0
	}
	return (b.total + b.pageSize - 1) / b.pageSize
}

// loadPage fetches page and clamps the selection into it.
func (b *Browser) loadPage(ctx context.Context, page int) error {
	if b.filtered() {
		start := min(page*b.pageSize, len(b.results))
		end := min(start+b.pageSize, len(b.results))
		b.commits = b.results[start:end]
		b.total = len(b.results)
	} else {
		p, err := b.src.ListCommits(ctx, b.project, page, b.pageSize)
		if err != nil {
			return err
		}
		b.commits = p.Commits
		b.total = p.Total
	}
	b.page = page
	b.selected = min(b.selected, max(len(b.commits)-1, 0))
	return nil
}

// selectionChanged re-enters the current state for the new selection.
func (b *Browser) selectionChanged(ctx context.Context) error {
	b.files, b.filesFor = nil, ""
	b.selectedFile = ""
	b.diff = DiffState{}
	switch b.state {
	case StateFileListVisible:
		return b.loadFiles(ctx)
	case StateDiffing:
		b.state = StateOpen
	}
	return nil
}

func (b *Browser) moveTo(ctx context.Context, page, index int) (bool, error) {
	if page == b.page && index == b.selected {
		return false, nil
	}
	if page != b.page {
		prevPage, prevSel := b.page, b.selected
		b.selected = index
		if err := b.loadPage(ctx, page); err != nil {
			b.page, b.selected = prevPage, prevSel
			return false, err
		}
	}
	b.selected = index
	return true, b.selectionChanged(ctx)
}

// Next selects the next (older) commit, crossing into the next page when
// needed. It returns false at the end of the history.
func (b *Browser) Next(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history next"); err != nil {
		return false, err
	}
	switch {
	case b.selected+1 < len(b.commits):
		return b.moveTo(ctx, b.page, b.selected+1)
	case b.page+1 < b.pages():
		return b.moveTo(ctx, b.page+1, 0)
	}
	return false, nil
}

// Previous selects the previous (newer) commit. It returns false at the
// newest commit.
func (b *Browser) Previous(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history previous"); err != nil {
		return false, err
	}
	switch {
	case b.selected > 0:
		return b.moveTo(ctx, b.page, b.selected-1)
	case b.page > 0:
		return b.moveTo(ctx, b.page-1, b.pageSize-1)
	}
	return false, nil
}

// First selects the newest commit.
func (b *Browser) First(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history first"); err != nil {
		return false, err
	}
	if b.total == 0 {
		return false, nil
	}
	return b.moveTo(ctx, 0, 0)
}

// Last selects the oldest commit.
func (b *Browser) Last(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history last"); err != nil {
		return false, err
	}
	if b.total == 0 {
		return false, nil
	}
	last := b.pages() - 1
	return b.moveTo(ctx, last, b.total-last*b.pageSize-1)
}

// PageDown shows the next page, keeping the selected row where possible.
func (b *Browser) PageDown(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history page down"); err != nil {
		return false, err
	}
	if b.page+1 >= b.pages() {
		return false, nil
	}
	index := min(b.selected, b.total-(b.page+1)*b.pageSize-1)
	return b.moveTo(ctx, b.page+1, index)
}

// PageUp shows the previous page.
func (b *Browser) PageUp(ctx context.Context) (bool, error) {
	if err := b.requireOpen("history page up"); err != nil {
		return false, err
	}
	if b.page == 0 {
		return false, nil
	}
	return b.moveTo(ctx, b.page-1, b.selected)
}

// Select selects row i of the current page. Out-of-range rows are ignored.
func (b *Browser) Select(ctx context.Context, i int) (bool, error) {
	if err := b.requireOpen("history select"); err != nil {
		return false, err
	}
	if i < 0 || i >= len(b.commits) {
		return false, nil
	}
	return b.moveTo(ctx, b.page, i)
}

// Selected returns the selected commit.
func (b *Browser) Selected() (timemachine.Commit, bool) {
	if b.selected < 0 || b.selected >= len(b.commits) {
		return timemachine.Commit{}, false
	}
	return b.commits[b.selected], true
}

func (b *Browser) loadFiles(ctx context.Context) error {
	c, ok := b.Selected()
	if !ok {
		b.files, b.filesFor = nil, ""
		return nil
	}
	if b.filesFor == c.Hash {
		return nil
	}
	files, err := b.src.FilesChanged(ctx, b.project, c.Hash)
	if err != nil {
		return err
	}
	b.files, b.filesFor = files, c.Hash
	return nil
}

// ToggleFileList shows or hides the files changed by the selected commit.
func (b *Browser) ToggleFileList(ctx context.Context) error {
	if err := b.requireOpen("history file list"); err != nil {
		return err
	}
	if b.state == StateFileListVisible {
		b.state = StateOpen
		return nil
	}
	if err := b.loadFiles(ctx); err != nil {
		return err
	}
	b.state = StateFileListVisible
	return nil
}

// DiffCommits returns the pair the selected commit is diffed as: against
// the base commit when one is set, otherwise against its parent (from is
// empty).
func (b *Browser) DiffCommits() (from, to string, ok bool) {
	c, ok := b.Selected()
	if !ok {
		return "", "", false
	}
	if b.base != nil && b.base.Hash != c.Hash {
		return b.base.Hash, c.Hash, true
	}
	return "", c.Hash, true
}

// ShowDiff diffs the whole selected commit.
func (b *Browser) ShowDiff(ctx context.Context) error {
	if err := b.requireOpen("history diff"); err != nil {
		return err
	}
	from, to, ok := b.DiffCommits()
	if !ok {
		return editorerr.Newf(editorerr.KindNotFound, "history diff", "", "no commit selected")
	}
	d, err := b.src.Diff(ctx, b.project, from, to)
	if err != nil {
		return err
	}
	b.diff = DiffState{From: from, To: to, Diff: d}
	b.selectedFile = ""
	b.state = StateDiffing
	return nil
}

// SelectFile scopes the diff to one file of the selected commit.
func (b *Browser) SelectFile(ctx context.Context, path string) error {
	if err := b.requireOpen("history select file"); err != nil {
		return err
	}
	from, to, ok := b.DiffCommits()
	if !ok {
		return editorerr.Newf(editorerr.KindNotFound, "history select file", path, "no commit selected")
	}
	if err := b.loadFiles(ctx); err != nil {
		return err
	}
	touched := slices.ContainsFunc(b.files, func(f timemachine.FileChange) bool {
		return f.Path == path || f.OldPath == path
	})
	// Against a base commit any file may differ.
	if !touched && from == "" {
		return editorerr.Newf(editorerr.KindNotFound, "history select file", path, "not changed in %s", shortHash(to))
	}

	fd, err := b.src.FileDiff(ctx, b.project, path, from, to)
	if err != nil {
		return err
	}
	b.diff = DiffState{From: from, To: to, File: path, FileDiff: fd}
	b.selectedFile = path
	b.state = StateDiffing
	return nil
}

// SetBase makes the selected commit the base later selections are diffed
// against.
func (b *Browser) SetBase() error {
	if err := b.requireOpen("history set base"); err != nil {
		return err
	}
	c, ok := b.Selected()
	if !ok {
		return editorerr.Newf(editorerr.KindNotFound, "history set base", "", "no commit selected")
	}
	b.base = &c
	return nil
}

// ClearBase goes back to diffing against parents.
func (b *Browser) ClearBase() {
	b.base = nil
}

// Search narrows the list to commits whose message contains query.
func (b *Browser) Search(ctx context.Context, query string) error {
	if err := b.requireOpen("history search"); err != nil {
		return err
	}
	return b.refilter(ctx, query, b.filter)
}

// ClearSearch removes the message search.
func (b *Browser) ClearSearch(ctx context.Context) error {
	if err := b.requireOpen("history search"); err != nil {
		return err
	}
	return b.refilter(ctx, "", b.filter)
}

// FilterByFile narrows the list to commits touching a path containing
// substr.
func (b *Browser) FilterByFile(ctx context.Context, substr string) error {
	if err := b.requireOpen("history filter"); err != nil {
		return err
	}
	return b.refilter(ctx, b.query, substr)
}

// ClearFilter removes the file filter.
func (b *Browser) ClearFilter(ctx context.Context) error {
	if err := b.requireOpen("history filter"); err != nil {
		return err
	}
	return b.refilter(ctx, b.query, "")
}

// refilter fetches the list for query and filter and selects its first
// commit. When both are set the result is their intersection.
func (b *Browser) refilter(ctx context.Context, query, filter string) error {
	var results []timemachine.Commit
	switch {
	case query != "" && filter != "":
		found, err := b.src.SearchCommits(ctx, b.project, query)
		if err != nil {
			return err
		}
		touching, err := b.src.CommitsTouching(ctx, b.project, filter)
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(touching))
		for _, c := range touching {
			keep[c.Hash] = true
		}
		for _, c := range found {
			if keep[c.Hash] {
				results = append(results, c)
			}
		}
	case query != "":
		found, err := b.src.SearchCommits(ctx, b.project, query)
		if err != nil {
			return err
		}
		results = found
	case filter != "":
		touching, err := b.src.CommitsTouching(ctx, b.project, filter)
		if err != nil {
			return err
		}
		results = touching
	}

	prev := *b
	b.query, b.filter, b.results = query, filter, results
	b.selected = 0
	if err := b.loadPage(ctx, 0); err != nil {
		*b = prev
		return err
	}
	if b.state == StateDiffing {
		b.state = StateOpen
	}
	return b.selectionChanged(ctx)
}

// Annotate attaches a note to the selected commit.
func (b *Browser) Annotate(ctx context.Context, note string) error {
	if err := b.requireOpen("history annotate"); err != nil {
		return err
	}
	c, ok := b.Selected()
	if !ok {
		return editorerr.Newf(editorerr.KindNotFound, "history annotate", "", "no commit selected")
	}
	if err := b.src.Annotate(ctx, b.project, c.Hash, note); err != nil {
		return err
	}
	b.commits[b.selected].Annotation = note
	return nil
}

// Refresh reloads the current page, picking up commits made since the
// browser was opened.
func (b *Browser) Refresh(ctx context.Context) error {
	if err := b.requireOpen("history refresh"); err != nil {
		return err
	}
	if b.filtered() {
		return b.refilter(ctx, b.query, b.filter)
	}
	return b.loadPage(ctx, b.page)
}

// View returns a copy of the browser state.
func (b *Browser) View() View {
	v := View{
		State:           b.state,
		Project:         b.project,
		Commits:         slices.Clone(b.commits),
		Selected:        b.selected,
		Page:            b.page,
		Pages:           b.pages(),
		Total:           b.total,
		FileListVisible: b.state == StateFileListVisible,
		Files:           slices.Clone(b.files),
		SelectedFile:    b.selectedFile,
		Diff:            b.diff,
		Query:           b.query,
		Filter:          b.filter,
	}
	if b.base != nil {
		base := *b.base
		v.Base = &base
	}
	return v
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
