// Package writer implements the append-only, checkpointable text buffer
// that backs pkg/layout's backtracking engine. Its emitted fragments are
// held in a persistent (immutable) linked list so that taking a checkpoint
// and later restoring to it is O(1) regardless of how much has been
// written since — the same technique as the original printer's writer
// (crates/core/src/writer.rs), ported field-for-field.
package writer

import "strings"

// NewLineKind selects the physical bytes a NewLine item emits.
type NewLineKind int

const (
	LF NewLineKind = iota
	CRLF
)

func (k NewLineKind) Bytes() []byte {
	if k == CRLF {
		return []byte("\r\n")
	}
	return []byte("\n")
}

// itemKind discriminates the physical fragments pushed onto the write
// list; distinct from ir.PrintItemKind, which is the *input* vocabulary.
type itemKind int

const (
	itemText itemKind = iota
	itemIndent
	itemNewLine
	itemTab
	itemSpace
)

type writeItem struct {
	kind   itemKind
	text   string
	indent int
}

// graphNode is one persistent linked-list cell. Cloning a Writer's state
// for a checkpoint just copies the *graphNode pointer; nothing already
// written is ever mutated once another node points past it.
type graphNode struct {
	previous *graphNode
	item     writeItem
}

// State is a fully-snapshotted writer position — cheap to copy, cheap to
// restore to since `items` is a shared persistent list.
type State struct {
	items                 *graphNode
	currentLineColumn     uint32
	currentLineNumber     uint32
	lastLineIndentLevel   uint8
	indentLevel           uint8
	expectNewLineNext     bool
	indentQueueCount      uint8
	lastWasNotTrailingSpace bool
	ignoreIndentCount     uint32
}

// Writer accumulates output with Rust-writer.rs semantics: indent queueing
// whose increase is applied when the next item is pushed, so it governs
// the items after that one but not that item itself, a
// single discardable trailing space, and ignore-indent nesting.
type Writer struct {
	state       State
	indentWidth uint8
	newLineKind NewLineKind
	useTabs     bool
}

func New(indentWidth uint8, nlKind NewLineKind) *Writer {
	return &Writer{indentWidth: indentWidth, newLineKind: nlKind}
}

// NewWithTabs is New plus spec.md §4.2's use_tabs option: indent fragments
// render as one tab per level instead of indentWidth spaces.
func NewWithTabs(indentWidth uint8, nlKind NewLineKind, useTabs bool) *Writer {
	return &Writer{indentWidth: indentWidth, newLineKind: nlKind, useTabs: useTabs}
}

// Checkpoint returns the current state; O(1).
func (w *Writer) Checkpoint() State { return w.state }

// Restore rewinds the writer to a previously taken Checkpoint; O(1).
func (w *Writer) Restore(s State) { w.state = s }

func (w *Writer) LineNumber() uint32 { return w.state.currentLineNumber }
func (w *Writer) IndentLevel() uint8 { return w.state.indentLevel }

// LineStartIndentLevel returns the indent level in effect at the start of
// the current line (spec.md §4.1's `line_start_indent`), distinct from
// IndentLevel which may have changed since via StartIndent/FinishIndent.
func (w *Writer) LineStartIndentLevel() uint8 { return w.state.lastLineIndentLevel }

// LineStartColumnNumber is the column the current line's content began at:
// `line_start_indent * indent_width` (spec.md §4.1 invariant).
func (w *Writer) LineStartColumnNumber() uint32 {
	return uint32(w.indentWidth) * uint32(w.state.lastLineIndentLevel)
}

// Column returns the effective column: if nothing has been written on the
// current line yet, it's the indent projected forward (indentWidth *
// indentLevel); otherwise the tracked physical column.
func (w *Writer) Column() uint32 {
	if w.state.currentLineColumn == 0 {
		return uint32(w.indentWidth) * uint32(w.state.indentLevel)
	}
	return w.state.currentLineColumn
}

func (w *Writer) SetIndentLevel(level uint8) {
	w.state.indentLevel = level
	if w.state.currentLineColumn == 0 {
		w.state.lastLineIndentLevel = level
	}
}

func (w *Writer) StartIndent() { w.state.indentLevel++ }

func (w *Writer) FinishIndent() {
	if w.state.indentQueueCount > 0 {
		w.state.indentQueueCount--
		return
	}
	if w.state.indentLevel == 0 {
		panic("writer: FinishIndent with no matching StartIndent or queued indent")
	}
	w.state.indentLevel--
}

func (w *Writer) QueueIndent() { w.state.indentQueueCount++ }

func (w *Writer) StartIgnoringIndent() { w.state.ignoreIndentCount++ }
func (w *Writer) FinishIgnoringIndent() {
	if w.state.ignoreIndentCount > 0 {
		w.state.ignoreIndentCount--
	}
}

func (w *Writer) MarkExpectNewLine() { w.state.expectNewLineNext = true }

// SpaceIfNotTrailing writes a space unless a NewLine is expected next (in
// which case the space would just be trailing whitespace before the break).
func (w *Writer) SpaceIfNotTrailing() {
	if w.state.expectNewLineNext {
		return
	}
	w.handleFirstColumn()
	w.pushItem(writeItem{kind: itemSpace})
	w.state.currentLineColumn++
	w.state.lastWasNotTrailingSpace = true
}

func (w *Writer) Tab() {
	w.handleFirstColumn()
	w.pushItem(writeItem{kind: itemTab})
	w.state.currentLineColumn += uint32(w.indentWidth)
	w.state.lastWasNotTrailingSpace = false
}

func (w *Writer) Space() {
	w.handleFirstColumn()
	w.pushItem(writeItem{kind: itemSpace})
	w.state.currentLineColumn++
	w.state.lastWasNotTrailingSpace = false
}

func (w *Writer) Write(text string) {
	if text == "" {
		return
	}
	w.handleFirstColumn()
	w.pushItem(writeItem{kind: itemText, text: text})
	w.state.currentLineColumn += uint32(len([]rune(text)))
	w.state.lastWasNotTrailingSpace = false
}

func (w *Writer) NewLine() {
	if w.state.lastWasNotTrailingSpace {
		w.popItem()
	}
	w.state.currentLineColumn = 0
	w.state.currentLineNumber++
	w.state.lastLineIndentLevel = w.state.indentLevel
	w.state.expectNewLineNext = false
	w.state.lastWasNotTrailingSpace = false
	w.pushItem(writeItem{kind: itemNewLine})
}

func (w *Writer) handleFirstColumn() {
	if w.state.expectNewLineNext {
		w.NewLine()
	}
	w.state.lastWasNotTrailingSpace = false
	if w.state.currentLineColumn == 0 && w.state.indentLevel > 0 && w.state.ignoreIndentCount == 0 {
		level := w.state.indentLevel
		w.pushItem(writeItem{kind: itemIndent, indent: int(level)})
		w.state.currentLineColumn += uint32(w.indentWidth) * uint32(level)
	}
}

// pushItem appends a fragment, then drains any queued indent into the
// active indent level — the queued indent therefore governs everything
// pushed *after* this call, never the item just pushed.
func (w *Writer) pushItem(it writeItem) {
	w.state.items = &graphNode{previous: w.state.items, item: it}
	if w.state.indentQueueCount > 0 {
		w.state.indentLevel += w.state.indentQueueCount
		w.state.indentQueueCount = 0
	}
}

func (w *Writer) popItem() {
	if w.state.items != nil {
		w.state.items = w.state.items.previous
	}
}

// items walks the persistent list from tail to head and reverses it back
// into emission order (the list is built back-to-front).
func (w *Writer) items() []writeItem {
	var rev []writeItem
	for n := w.state.items; n != nil; n = n.previous {
		rev = append(rev, n.item)
	}
	out := make([]writeItem, len(rev))
	for i, it := range rev {
		out[len(rev)-1-i] = it
	}
	return out
}

// Bytes flattens the writer's fragments into the final output.
func (w *Writer) Bytes() []byte {
	var b strings.Builder
	for _, it := range w.items() {
		switch it.kind {
		case itemText:
			b.WriteString(it.text)
		case itemIndent:
			if w.useTabs {
				for i := 0; i < it.indent; i++ {
					b.WriteByte('\t')
				}
			} else {
				for i := 0; i < it.indent; i++ {
					b.WriteString(strings.Repeat(" ", int(w.indentWidth)))
				}
			}
		case itemNewLine:
			b.Write(w.newLineKind.Bytes())
		case itemTab:
			b.WriteByte('\t')
		case itemSpace:
			b.WriteByte(' ')
		}
	}
	return []byte(b.String())
}

func (w *Writer) String() string { return string(w.Bytes()) }
