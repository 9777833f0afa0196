// Package ir defines the print intermediate representation consumed by
// pkg/layout: the variant items a plugin builds its output from, and the
// resolved-position types (WriterInfo, Container) a condition inspects.
package ir

// PrintItemKind discriminates the variants of PrintItem. A PrintItem is a
// tagged union in spirit; Go expresses it with an interface and a type
// switch in pkg/layout rather than a sum type.
type PrintItemKind int

const (
	KindInvalid PrintItemKind = iota
	KindString
	KindRawString
	KindTab
	KindSpace
	KindNewLine
	KindExpectNewLine
	KindPossibleNewLine
	KindSpaceOrNewLine
	KindStartIndent
	KindFinishIndent
	KindQueueStartIndent
	KindStartNewLineGroup
	KindFinishNewLineGroup
	KindStartIgnoringIndent
	KindFinishIgnoringIndent
	KindStartForceNoNewLines
	KindFinishForceNoNewLines
	KindInfo
	KindLineNumberAnchor
	KindCondition
)

// PrintItem is one node of the print IR. Exactly one of the Kind-specific
// fields is meaningful for a given Kind; the others are zero.
type PrintItem struct {
	Kind PrintItemKind

	// KindString / KindRawString
	Text string

	// KindInfo / KindLineNumberAnchor
	InfoID uint32

	// KindLineNumberAnchor only: the Info id whose resolved line number is
	// re-checked against this anchor's position (spec.md §3's
	// `LineNumberAnchor(id, target_info_id)`).
	TargetInfoID uint32

	// KindCondition
	Condition *Condition

	// KindStartNewLineGroup / KindFinishNewLineGroup carry no payload.
	// KindStartIndent/FinishIndent/QueueStartIndent carry no payload; the
	// indent width is a Printer-wide option (spec.md §4.2).
}

func Str(s string) PrintItem      { return PrintItem{Kind: KindString, Text: s} }
func RawStr(s string) PrintItem   { return PrintItem{Kind: KindRawString, Text: s} }
func Info(id uint32) PrintItem    { return PrintItem{Kind: KindInfo, InfoID: id} }
// LineAnchor associates id's position with targetInfoID's resolved line: if
// targetInfoID's line moves between layout attempts, conditions that looked
// it up are invalidated and re-evaluated (spec.md §4.2 step 8).
func LineAnchor(id, targetInfoID uint32) PrintItem {
	return PrintItem{Kind: KindLineNumberAnchor, InfoID: id, TargetInfoID: targetInfoID}
}
func Cond(c *Condition) PrintItem { return PrintItem{Kind: KindCondition, Condition: c} }

var (
	Tab                     = PrintItem{Kind: KindTab}
	Space                   = PrintItem{Kind: KindSpace}
	NewLine                 = PrintItem{Kind: KindNewLine}
	ExpectNewLine           = PrintItem{Kind: KindExpectNewLine}
	PossibleNewLine         = PrintItem{Kind: KindPossibleNewLine}
	SpaceOrNewLine          = PrintItem{Kind: KindSpaceOrNewLine}
	StartIndent             = PrintItem{Kind: KindStartIndent}
	FinishIndent            = PrintItem{Kind: KindFinishIndent}
	QueueStartIndent        = PrintItem{Kind: KindQueueStartIndent}
	StartNewLineGroup       = PrintItem{Kind: KindStartNewLineGroup}
	FinishNewLineGroup      = PrintItem{Kind: KindFinishNewLineGroup}
	StartIgnoringIndent     = PrintItem{Kind: KindStartIgnoringIndent}
	FinishIgnoringIndent    = PrintItem{Kind: KindFinishIgnoringIndent}
	StartForceNoNewLines    = PrintItem{Kind: KindStartForceNoNewLines}
	FinishForceNoNewLines   = PrintItem{Kind: KindFinishForceNoNewLines}
)

// WriterInfo is the resolved position snapshot handed to a Condition or
// retrievable after an Info item has been printed (spec.md §3/§4.1).
type WriterInfo struct {
	LineNumber            uint32
	ColumnNumber          uint32
	IndentLevel           uint8
	LineStartIndentLevel  uint8
	LineStartColumnNumber uint32
}

// ResolveConditionContext is passed to a Condition's evaluator. It exposes
// just enough of the Printer's resolved state to decide true/false without
// leaking the backtracking machinery itself.
type ResolveConditionContext interface {
	// WriterInfo returns the writer state as of the condition's position.
	WriterInfo() WriterInfo
	// ResolvedCondition looks up a previously resolved condition's value by
	// id; ok is false if it has not been resolved yet (forces a look-ahead
	// save point in pkg/layout).
	ResolvedCondition(id uint32) (value bool, ok bool)
	// ResolvedInfo looks up a previously resolved Info by id.
	ResolvedInfo(id uint32) (info WriterInfo, ok bool)
}

// Condition is a named boolean decision point. True/False are the items to
// print depending on the outcome of Evaluate; either may be nil to print
// nothing for that branch.
type Condition struct {
	ID         uint32
	Name       string
	Evaluate   func(ctx ResolveConditionContext) (bool, bool) // (value, ok)
	True       []PrintItem
	False      []PrintItem
}
