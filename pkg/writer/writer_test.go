package writer

import "testing"

func TestWriteAndCheckpointRestore(t *testing.T) {
	w := New(2, LF)
	w.Write("foo")
	cp := w.Checkpoint()
	w.Write("bar")
	if got := w.String(); got != "foobar" {
		t.Fatalf("got %q", got)
	}
	w.Restore(cp)
	if got := w.String(); got != "foo" {
		t.Fatalf("after restore got %q", got)
	}
}

func TestIndentAppliesOnNextLine(t *testing.T) {
	w := New(2, LF)
	w.Write("a")
	w.StartIndent()
	w.NewLine()
	w.Write("b")
	w.FinishIndent()
	if got := w.String(); got != "a\n  b" {
		t.Fatalf("got %q", got)
	}
}

func TestQueueIndentAppliesAfterNextItem(t *testing.T) {
	w := New(2, LF)
	w.QueueIndent()
	w.Write("first")
	w.NewLine()
	w.Write("second")
	if got := w.String(); got != "first\n  second" {
		t.Fatalf("got %q", got)
	}
}

func TestSpaceIfNotTrailingSkippedBeforeNewLine(t *testing.T) {
	w := New(2, LF)
	w.Write("a")
	w.MarkExpectNewLine()
	w.SpaceIfNotTrailing()
	w.Write("b")
	if got := w.String(); got != "a\nb" {
		t.Fatalf("got %q", got)
	}
}

func TestFinishIndentPanicsWithoutMatchingStart(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	w := New(2, LF)
	w.FinishIndent()
}
