package block

import "testing"

func TestSplitWithinOneBlock(t *testing.T) {
	s := Split(10, 20)
	if s.SeqFirst != 0 || s.SeqLast != 0 {
		t.Fatalf("expected single block, got %+v", s)
	}
	if !s.Single() {
		t.Fatalf("expected Single() true for %+v", s)
	}
	if s.OffsetFirst != 10 || s.LengthFirst != 20 {
		t.Fatalf("unexpected first-block fields: %+v", s)
	}
}

func TestSplitAcrossBlockBoundary(t *testing.T) {
	// offset 4095, size 2: one byte in block 0, one byte in block 1.
	s := Split(4095, 2)
	if s.Single() {
		t.Fatalf("expected a two-block span, got %+v", s)
	}
	if s.SeqFirst != 0 || s.OffsetFirst != 4095 || s.LengthFirst != 1 {
		t.Fatalf("unexpected first block: %+v", s)
	}
	if s.SeqLast != 1 || s.LengthLast != 1 {
		t.Fatalf("unexpected last block: %+v", s)
	}
}

func TestSplitExactlyFillsOneBlock(t *testing.T) {
	s := Split(0, Size)
	if s.Single() || s.SeqLast != 1 || s.LengthLast != 0 {
		t.Fatalf("a write of exactly one block's size should end at the start of block 1 with LengthLast 0: %+v", s)
	}
	if s.LengthFirst != Size {
		t.Fatalf("expected LengthFirst == Size, got %+v", s)
	}
}

func TestSplitSpanningMultipleInteriorBlocks(t *testing.T) {
	s := Split(100, 3*Size)
	if s.SeqFirst != 0 {
		t.Fatalf("expected SeqFirst 0, got %+v", s)
	}
	if s.SeqLast != 3 {
		t.Fatalf("expected SeqLast 3, got %+v", s)
	}
	if s.LengthFirst != Size-100 {
		t.Fatalf("expected LengthFirst %d, got %+v", Size-100, s)
	}
	if s.LengthLast != 100 {
		t.Fatalf("expected LengthLast 100, got %+v", s)
	}
}

func TestSplitZeroSizeLocatesBoundaryBlock(t *testing.T) {
	// Truncate's usage: size 0 locates the block a new length falls in.
	s := Split(4200, 0)
	if s.SeqFirst != s.SeqLast || s.SeqFirst != 1 {
		t.Fatalf("expected boundary block 1, got %+v", s)
	}
	if s.LengthLast != 4200%Size {
		t.Fatalf("expected LengthLast %d, got %+v", 4200%Size, s)
	}
}

func TestSplitAtOrigin(t *testing.T) {
	s := Split(0, 0)
	if s.SeqFirst != 0 || s.SeqLast != 0 || s.LengthLast != 0 {
		t.Fatalf("unexpected zero-length span at origin: %+v", s)
	}
}
