package layout

import (
	"testing"

	"github.com/dformat-org/dformat/pkg/ir"
	"github.com/dformat-org/dformat/pkg/writer"
)

func TestPrintPlainString(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{ir.Str("hello")})
	if string(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestSpaceOrNewLineStaysFlatWhenUnderWidth(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	items := []ir.PrintItem{
		ir.Str("a"),
		ir.SpaceOrNewLine,
		ir.Str("b"),
	}
	out := p.Print(items)
	if string(out) != "a b" {
		t.Fatalf("got %q", out)
	}
}

func TestConditionTrueFalseBranches(t *testing.T) {
	c := &ir.Condition{
		ID:   1,
		Name: "always-true",
		Evaluate: func(ctx ir.ResolveConditionContext) (bool, bool) {
			return true, true
		},
		True:  []ir.PrintItem{ir.Str("yes")},
		False: []ir.PrintItem{ir.Str("no")},
	}
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{ir.Cond(c), ir.Str("!")})
	if string(out) != "yes!" {
		t.Fatalf("got %q", out)
	}
}

func TestIndentNesting(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Str("a"),
		ir.StartIndent,
		ir.NewLine,
		ir.Str("b"),
		ir.FinishIndent,
	})
	if string(out) != "a\n  b" {
		t.Fatalf("got %q", out)
	}
}

// TestScenarioS1SimpleWidthBreak is spec.md's S1: a run of Strings joined
// by SpaceOrNewLine must not let the *last* fragment push a line over
// max_width just because neither individual SpaceOrNewLine was itself over
// width — the overflow is only visible once "ghij" is about to be written,
// at which point the engine must backtrack to the latest still-valid break
// point (property #1, width bound).
func TestScenarioS1SimpleWidthBreak(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 10, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Str("abc"),
		ir.SpaceOrNewLine,
		ir.Str("def"),
		ir.SpaceOrNewLine,
		ir.Str("ghij"),
	})
	if got, want := string(out), "abc def\nghij"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestScenarioS2GroupScopedBreak is spec.md's S2: within a new-line group,
// the first possible-newline taken on entry to the group is the one that
// survives a later overflow — not a deeper one recorded after it — so the
// whole group hangs together off a single break.
func TestScenarioS2GroupScopedBreak(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 12, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Str("f("),
		ir.StartIndent,
		ir.PossibleNewLine,
		ir.StartNewLineGroup,
		ir.Str("xxxxxx"),
		ir.SpaceOrNewLine,
		ir.Str("yyyyyy"),
		ir.FinishNewLineGroup,
		ir.FinishIndent,
		ir.Str(")"),
	})
	if got, want := string(out), "f(\n  xxxxxx\n  yyyyyy)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestScenarioS3ForceNoNewLines is spec.md's S3: a StartForceNoNewLines
// region suppresses all breaks even when every item inside it would
// otherwise be over width.
func TestScenarioS3ForceNoNewLines(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 1, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.StartForceNoNewLines,
		ir.Str("a"),
		ir.SpaceOrNewLine,
		ir.Str("b"),
		ir.FinishForceNoNewLines,
	})
	if got, want := string(out), "a b"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestScenarioS4AnchoredTrailingComma is spec.md's S4: a trailing comma is
// appended only when the surrounding list actually broke across lines,
// decided by comparing the list's opening Info against the writer's
// position once the last element has been printed.
func TestScenarioS4AnchoredTrailingComma(t *testing.T) {
	build := func(maxWidth uint32) string {
		const startInfoID = 1
		trailingComma := &ir.Condition{
			ID:   2,
			Name: "trailing-comma-if-multiline",
			Evaluate: func(ctx ir.ResolveConditionContext) (bool, bool) {
				start, ok := ctx.ResolvedInfo(startInfoID)
				if !ok {
					return false, false
				}
				return ctx.WriterInfo().LineNumber != start.LineNumber, true
			},
			True: []ir.PrintItem{ir.Str(",")},
		}
		p := NewPrinter(Options{MaxWidth: maxWidth, IndentWidth: 2, NewLineKind: writer.LF})
		out := p.Print([]ir.PrintItem{
			ir.Str("["),
			ir.Info(startInfoID),
			ir.StartIndent,
			ir.PossibleNewLine,
			ir.StartNewLineGroup,
			ir.Str("a"),
			ir.Str(","),
			ir.SpaceOrNewLine,
			ir.Str("b"),
			ir.Cond(trailingComma),
			ir.FinishNewLineGroup,
			ir.FinishIndent,
			ir.PossibleNewLine,
			ir.Str("]"),
		})
		return string(out)
	}

	if got, want := build(80), "[a, b]"; got != want {
		t.Fatalf("fits-on-one-line case: got %q, want %q", got, want)
	}
	if got, want := build(5), "[\n  a,\n  b,\n]"; got != want {
		t.Fatalf("forced-break case: got %q, want %q", got, want)
	}
}

// TestConditionLookAheadResolvesOnInfo exercises the look-ahead path for a
// plain Info (no anchor): a Condition reached before its dependency Info is known
// must take a look-ahead save point and get a real chance to redecide once
// that Info resolves, rather than being stuck with a guessed value.
func TestConditionLookAheadResolvesOnInfo(t *testing.T) {
	const targetInfoID = 7
	isMultiLine := &ir.Condition{
		ID:   9,
		Name: "is-multiline",
		Evaluate: func(ctx ir.ResolveConditionContext) (bool, bool) {
			info, ok := ctx.ResolvedInfo(targetInfoID)
			if !ok {
				return false, false
			}
			return info.LineNumber > 0, true
		},
		True:  []ir.PrintItem{ir.Str("[multiline]")},
		False: []ir.PrintItem{ir.Str("[flat]")},
	}
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Cond(isMultiLine),
		ir.Str("before"),
		ir.NewLine,
		ir.Str("after"),
		ir.Info(targetInfoID),
	})
	if got, want := string(out), "[multiline]before\nafter"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestLineNumberAnchorReEvaluatesCondition covers the two-id anchor form
// directly: a condition looks ahead on the anchor's target id, and a
// LineNumberAnchor placed after a line break is what actually re-triggers
// it (distinct from the plain Info case above, where the dependency id and
// the printed Info id are the same item).
func TestLineNumberAnchorReEvaluatesCondition(t *testing.T) {
	const targetInfoID = 3
	const anchorID = 4
	isMultiLine := &ir.Condition{
		ID:   5,
		Name: "is-multiline-via-anchor",
		Evaluate: func(ctx ir.ResolveConditionContext) (bool, bool) {
			info, ok := ctx.ResolvedInfo(targetInfoID)
			if !ok {
				return false, false
			}
			return info.LineNumber > 0, true
		},
		True:  []ir.PrintItem{ir.Str("[multiline]")},
		False: []ir.PrintItem{ir.Str("[flat]")},
	}
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Cond(isMultiLine),
		ir.Str("before"),
		ir.NewLine,
		ir.Str("after"),
		ir.LineAnchor(anchorID, targetInfoID),
	})
	if got, want := string(out), "[multiline]before\nafter"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestUseTabsRendersIndentAsTabs covers the use_tabs option (spec.md §4.2
// inputs, §6 config): indent fragments should render as literal tabs
// instead of indent_width spaces when enabled.
func TestUseTabsRendersIndentAsTabs(t *testing.T) {
	p := NewPrinter(Options{MaxWidth: 80, IndentWidth: 2, UseTabs: true, NewLineKind: writer.LF})
	out := p.Print([]ir.PrintItem{
		ir.Str("a"),
		ir.StartIndent,
		ir.NewLine,
		ir.Str("b"),
		ir.FinishIndent,
	})
	if got, want := string(out), "a\n\tb"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
