// Package layout implements the reversible, backtracking print engine
// described by spec.md §4.2: it walks a pkg/ir.PrintItem tree, writing
// through pkg/writer, and backtracks to a save point whenever a line would
// exceed the configured width. The algorithm is ported from
// _examples/original_source/packages/rust-core/src/printer.rs; see
// DESIGN.md for the field-by-field grounding.
package layout

import (
	"github.com/dformat-org/dformat/pkg/ir"
	"github.com/dformat-org/dformat/pkg/writer"
)

// Options mirrors the Rust PrintOptions struct.
type Options struct {
	MaxWidth    uint32
	IndentWidth uint8
	UseTabs     bool
	NewLineKind writer.NewLineKind
}

// container is a position within the item tree: the slice of items not yet
// processed at one level. Print never sets parent; the enclosing levels to
// pop back into are kept on Printer.stack, and the position is advanced by
// reslicing items rather than by an index.
type container struct {
	parent *containerFrame
	items  []ir.PrintItem
}

type containerFrame struct {
	c     *container
	index int
}

// savePoint is a rewindable bookmark: the writer state at the moment it
// was taken, plus enough of the traversal stack to resume from there.
type savePoint struct {
	id                uint32
	name              string
	newLineGroupDepth int
	writerState       writer.State
	stack             []containerFrame
	// possibleNewLineSavePoint nests the previous possible-newline save
	// point so restoring one can fall back to an earlier one, matching
	// the Rust `possible_new_line_save_point: Box<Option<SavePoint>>`.
	possibleNewLineSavePoint *savePoint
}

type resolveCtx struct {
	p *Printer
}

func (r resolveCtx) WriterInfo() ir.WriterInfo {
	return ir.WriterInfo{
		LineNumber:            r.p.w.LineNumber(),
		ColumnNumber:          r.p.w.Column(),
		IndentLevel:           r.p.w.IndentLevel(),
		LineStartIndentLevel:  r.p.w.LineStartIndentLevel(),
		LineStartColumnNumber: r.p.w.LineStartColumnNumber(),
	}
}

// ResolvedCondition mirrors printer.rs's get_resolved_condition: if id
// hasn't resolved yet, take a look-ahead save point (once) keyed by id so
// that when it does resolve we can rewind and redo this lookup instead of
// guessing; if it's already resolved, and an earlier lookup of this same
// id left a pending save point, consume it now (someone queried us before
// we were known, and wants a chance to redo that now that we are).
func (r resolveCtx) ResolvedCondition(id uint32) (bool, bool) {
	v, ok := r.p.resolvedConditions[id]
	if !ok {
		if _, exists := r.p.lookAheadConditionSavePoints[id]; !exists {
			r.p.lookAheadConditionSavePoints[id] = r.p.takeSavePointForRestoringCondition("condition-lookahead")
		}
	} else if sp, exists := r.p.lookAheadConditionSavePoints[id]; exists {
		delete(r.p.lookAheadConditionSavePoints, id)
		r.p.restoreToSavePoint(sp, false)
		r.p.isExitingCondition = true
	}
	return v, ok
}

// ResolvedInfo mirrors printer.rs's get_resolved_info: same look-ahead
// save point behavior as ResolvedCondition, but for an Info id.
func (r resolveCtx) ResolvedInfo(id uint32) (ir.WriterInfo, bool) {
	v, ok := r.p.resolvedInfos[id]
	if !ok {
		if _, exists := r.p.lookAheadInfoSavePoints[id]; !exists {
			r.p.lookAheadInfoSavePoints[id] = r.p.takeSavePointForRestoringCondition("info-lookahead")
		}
	}
	return v, ok
}

// Printer drives the traversal. It is single-use: call Print once per
// document.
type Printer struct {
	opts Options
	w    *writer.Writer

	possibleNewLineSavePoint *savePoint
	newLineGroupDepth        int
	savePointSeq             uint32

	resolvedConditions map[uint32]bool
	resolvedInfos      map[uint32]ir.WriterInfo

	// lookAheadConditionSavePoints/lookAheadInfoSavePoints hold a save
	// point taken *before* we reached a Condition/Info whose value a
	// not-yet-printed branch depends on; if that id later resolves
	// differently than assumed, we rewind to the save point instead of
	// re-deriving state forward.
	lookAheadConditionSavePoints map[uint32]*savePoint
	lookAheadInfoSavePoints      map[uint32]*savePoint

	isExitingCondition bool

	// evaluatingCondition is the Condition whose Evaluate is currently
	// running, so a look-ahead save point taken from inside Evaluate (via
	// ResolvedInfo/ResolvedCondition) can be rewound to replay this same
	// Condition item rather than whatever comes after it.
	evaluatingCondition *ir.Condition

	forceNoNewLinesStack []uint32

	stack []containerFrame
	cur   *container
}

func NewPrinter(opts Options) *Printer {
	if opts.IndentWidth == 0 {
		opts.IndentWidth = 2
	}
	return &Printer{
		opts:                         opts,
		w:                            writer.NewWithTabs(opts.IndentWidth, opts.NewLineKind, opts.UseTabs),
		resolvedConditions:           map[uint32]bool{},
		resolvedInfos:                map[uint32]ir.WriterInfo{},
		lookAheadConditionSavePoints: map[uint32]*savePoint{},
		lookAheadInfoSavePoints:      map[uint32]*savePoint{},
	}
}

// Print runs the full backtracking traversal and returns the flattened
// output bytes.
func (p *Printer) Print(items []ir.PrintItem) []byte {
	p.cur = &container{items: items}
	for p.cur != nil {
		if len(p.cur.items) == 0 {
			if len(p.stack) == 0 {
				break
			}
			top := p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.cur = top.c
			continue
		}
		item := p.cur.items[0]
		p.cur = &container{parent: nil, items: p.cur.items[1:]}
		// Re-thread parent: we popped the head off a fresh slice; keep
		// walking the remaining siblings next iteration by pushing this
		// remainder back as "current" — no stack push needed since Go
		// slices already advance via reslicing above.
		p.handleItem(item)
	}
	return p.w.Bytes()
}

func (p *Printer) handleItem(item ir.PrintItem) {
	switch item.Kind {
	case ir.KindString:
		p.handleString(item.Text)
	case ir.KindRawString:
		p.handleRawString(item.Text)
	case ir.KindTab:
		p.w.Tab()
	case ir.KindSpace:
		p.w.Space()
	case ir.KindNewLine:
		p.writeNewLine()
	case ir.KindExpectNewLine:
		p.w.MarkExpectNewLine()
		p.possibleNewLineSavePoint = nil
	case ir.KindPossibleNewLine:
		p.markPossibleNewLine()
	case ir.KindSpaceOrNewLine:
		p.handleSpaceOrNewLine()
	case ir.KindStartIndent:
		p.w.StartIndent()
	case ir.KindFinishIndent:
		p.w.FinishIndent()
	case ir.KindQueueStartIndent:
		p.w.QueueIndent()
	case ir.KindStartNewLineGroup:
		p.newLineGroupDepth++
	case ir.KindFinishNewLineGroup:
		if p.newLineGroupDepth > 0 {
			p.newLineGroupDepth--
		}
	case ir.KindStartIgnoringIndent:
		p.w.StartIgnoringIndent()
	case ir.KindFinishIgnoringIndent:
		p.w.FinishIgnoringIndent()
	case ir.KindStartForceNoNewLines:
		// Forced-no-newline regions are modeled by temporarily widening
		// MaxWidth to effectively infinite; restored on Finish.
		p.pushForceNoNewLines()
	case ir.KindFinishForceNoNewLines:
		p.popForceNoNewLines()
	case ir.KindInfo:
		p.handleInfo(item.InfoID)
	case ir.KindLineNumberAnchor:
		p.handleLineNumberAnchor(item.InfoID, item.TargetInfoID)
	case ir.KindCondition:
		p.handleCondition(item.Condition)
	}
}

func (p *Printer) pushForceNoNewLines() {
	p.forceNoNewLinesStack = append(p.forceNoNewLinesStack, p.opts.MaxWidth)
	p.opts.MaxWidth = ^uint32(0)
}

func (p *Printer) popForceNoNewLines() {
	n := len(p.forceNoNewLinesStack)
	if n == 0 {
		return
	}
	p.opts.MaxWidth = p.forceNoNewLinesStack[n-1]
	p.forceNoNewLinesStack = p.forceNoNewLinesStack[:n-1]
}

// isAboveMaxWidth mirrors printer.rs's is_above_max_width: the current
// column, plus one (a write always lands on the column *after* the last
// character already there), plus the additional width being considered.
func (p *Printer) isAboveMaxWidth(additional uint32) bool {
	return p.w.Column()+1+additional > p.opts.MaxWidth
}

// writeNewLine is printer.rs's write_new_line: emit the newline and drop
// the active possible-newline save point, since any save point taken
// before an emitted newline would rewind across it.
func (p *Printer) writeNewLine() {
	p.w.NewLine()
	p.possibleNewLineSavePoint = nil
}

func (p *Printer) handleString(text string) {
	if p.possibleNewLineSavePoint != nil && p.isAboveMaxWidth(uint32(len([]rune(text)))) {
		sp := p.possibleNewLineSavePoint
		p.possibleNewLineSavePoint = nil
		p.restoreToSavePoint(sp, true)
		return
	}
	p.w.Write(text)
}

func (p *Printer) handleRawString(text string) {
	if p.possibleNewLineSavePoint != nil && p.isAboveMaxWidth(firstLineWidth(text)) {
		sp := p.possibleNewLineSavePoint
		p.possibleNewLineSavePoint = nil
		p.restoreToSavePoint(sp, true)
		return
	}
	p.w.Write(text)
}

// firstLineWidth is the visible width of text up to (excluding) its first
// newline, or the whole text's width if it contains none — used to decide
// whether a multi-line RawString's first line would overflow the current
// line (spec.md §4.2 step 4).
func firstLineWidth(text string) uint32 {
	var width uint32
	for _, r := range text {
		if r == '\n' {
			break
		}
		width++
	}
	return width
}

// markPossibleNewLine mirrors mark_possible_new_line_if_able: keep the
// existing save point only if we are now nested in a *deeper* new-line
// group than where it was taken (that shallower point is the safer rewind
// target); otherwise — same or shallower depth than before — take a fresh
// save point here, so the latest candidate break position wins.
func (p *Printer) markPossibleNewLine() {
	if p.possibleNewLineSavePoint != nil && p.newLineGroupDepth > p.possibleNewLineSavePoint.newLineGroupDepth {
		return
	}
	p.possibleNewLineSavePoint = p.takeSavePoint("possibleNewLine")
}

func (p *Printer) handleSpaceOrNewLine() {
	if p.isAboveMaxWidth(1) {
		sp := p.possibleNewLineSavePoint
		p.possibleNewLineSavePoint = nil
		if sp == nil || sp.newLineGroupDepth >= p.newLineGroupDepth {
			p.writeNewLine()
			return
		}
		p.restoreToSavePoint(sp, true)
		return
	}
	p.markPossibleNewLine()
	p.w.Space()
}

// handleInfo resolves id to the current position and, if an earlier
// Condition/Info speculatively assumed a value for it, rewinds to the
// look-ahead save point taken at that assumption so it can be
// re-evaluated — restored with isForNewLine=false: this is position
// recovery, not a line break (printer.rs's handle_info).
func (p *Printer) handleInfo(id uint32) {
	info := resolveCtx{p}.WriterInfo()
	p.resolvedInfos[id] = info
	if sp, ok := p.lookAheadInfoSavePoints[id]; ok {
		delete(p.lookAheadInfoSavePoints, id)
		p.restoreToSavePoint(sp, false)
	}
}

// handleLineNumberAnchor re-resolves targetInfoID to the anchor's current
// position; if that moved the target's line since it was last recorded
// (spec.md §4.2 step 8), any condition whose evaluation depended on the
// earlier value is rewound and re-evaluated, same as a late Info change.
func (p *Printer) handleLineNumberAnchor(anchorID, targetInfoID uint32) {
	info := resolveCtx{p}.WriterInfo()
	prev, hadPrev := p.resolvedInfos[targetInfoID]
	p.resolvedInfos[anchorID] = info
	p.resolvedInfos[targetInfoID] = info
	if hadPrev && prev.LineNumber == info.LineNumber {
		return
	}
	if sp, ok := p.lookAheadInfoSavePoints[targetInfoID]; ok {
		delete(p.lookAheadInfoSavePoints, targetInfoID)
		p.restoreToSavePoint(sp, false)
		return
	}
	if sp, ok := p.lookAheadConditionSavePoints[targetInfoID]; ok {
		delete(p.lookAheadConditionSavePoints, targetInfoID)
		p.restoreToSavePoint(sp, false)
		p.isExitingCondition = true
	}
}

func (p *Printer) handleCondition(c *ir.Condition) {
	if c == nil {
		return
	}
	value, ok := p.getConditionValue(c)
	if p.isExitingCondition {
		// Evaluating (or resolving) triggered a rewind; the replay will
		// decide this condition over again, so don't act on this pass's
		// result.
		p.isExitingCondition = false
		return
	}

	var branch []ir.PrintItem
	if ok && value {
		branch = c.True
	} else {
		branch = c.False
	}
	if len(branch) == 0 {
		return
	}
	p.stack = append(p.stack, containerFrame{c: p.cur})
	p.cur = &container{items: branch}
}

// getConditionValue mirrors printer.rs's get_condition_value: run Evaluate,
// then — unless evaluating it already triggered a rewind for some other id
// — resolve it and, if an earlier lookup of this same condition's id left
// a pending look-ahead save point, consume it so that lookup gets redone.
func (p *Printer) getConditionValue(c *ir.Condition) (bool, bool) {
	prevEvaluating := p.evaluatingCondition
	p.evaluatingCondition = c
	value, ok := c.Evaluate(resolveCtx{p})
	p.evaluatingCondition = prevEvaluating

	if p.isExitingCondition {
		return false, false
	}
	if ok {
		p.resolvedConditions[c.ID] = value
		if sp, exists := p.lookAheadConditionSavePoints[c.ID]; exists {
			delete(p.lookAheadConditionSavePoints, c.ID)
			p.restoreToSavePoint(sp, false)
			p.isExitingCondition = true
		}
	}
	return value, ok
}

func (p *Printer) takeSavePoint(name string) *savePoint {
	p.savePointSeq++
	frames := make([]containerFrame, len(p.stack)+1)
	copy(frames, p.stack)
	frames[len(frames)-1] = containerFrame{c: p.cur}
	return &savePoint{
		id:                       p.savePointSeq,
		name:                     name,
		newLineGroupDepth:        p.newLineGroupDepth,
		writerState:              p.w.Checkpoint(),
		stack:                    frames,
		possibleNewLineSavePoint: p.possibleNewLineSavePoint,
	}
}

// takeSavePointForRestoringCondition is takeSavePoint, except — mirroring
// printer.rs's create_save_point_for_restoring_condition, which decrements
// the traversal index so the same item is reprocessed — the replay target
// is rewound to re-include the Condition currently being evaluated (the
// one whose Evaluate called ResolvedInfo/ResolvedCondition) ahead of
// whatever already-sliced-off items remain, so resolving the dependency
// lets this same condition be redecided rather than skipped.
func (p *Printer) takeSavePointForRestoringCondition(name string) *savePoint {
	sp := p.takeSavePoint(name)
	if p.evaluatingCondition != nil {
		items := append([]ir.PrintItem{ir.Cond(p.evaluatingCondition)}, p.cur.items...)
		sp.stack[len(sp.stack)-1] = containerFrame{c: &container{items: items}}
	}
	return sp
}

// restoreToSavePoint mirrors printer.rs's update_state_to_save_point. When
// isForNewLine is true (SpaceOrNewLine, or a String/RawString overflow
// discovered after the fact) the save point is consumed — the rewind stands
// in for a line break, so the possible-newline save point does not survive
// it and a newline is emitted once position is restored. When false (Info
// or Condition resolving a look-ahead guess) this is pure position
// recovery: the save point's own nested possibleNewLineSavePoint is carried
// forward unchanged and no newline is written.
func (p *Printer) restoreToSavePoint(sp *savePoint, isForNewLine bool) {
	p.w.Restore(sp.writerState)
	p.newLineGroupDepth = sp.newLineGroupDepth
	if isForNewLine {
		p.possibleNewLineSavePoint = nil
	} else {
		p.possibleNewLineSavePoint = sp.possibleNewLineSavePoint
	}
	if len(sp.stack) == 0 {
		p.cur = &container{}
		p.stack = nil
	} else {
		p.stack = append([]containerFrame{}, sp.stack[:len(sp.stack)-1]...)
		p.cur = sp.stack[len(sp.stack)-1].c
	}
	if isForNewLine {
		p.writeNewLine()
	}
}
