package gutter

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.ShowLineNumbers {
		t.Error("ShowLineNumbers should be true by default")
	}
	if !cfg.ShowSigns {
		t.Error("ShowSigns should be true by default")
	}
	if cfg.MinLineNumberWidth != 3 {
		t.Errorf("expected MinLineNumberWidth 3, got %d", cfg.MinLineNumberWidth)
	}
	if cfg.SignColumnWidth != 2 {
		t.Errorf("expected SignColumnWidth 2, got %d", cfg.SignColumnWidth)
	}
}

func TestGutterWidth(t *testing.T) {
	g := New(DefaultConfig())

	// 2 signs + 3 digits + separator
	if w := g.Width(); w != 6 {
		t.Errorf("expected initial width 6, got %d", w)
	}

	g.SetLineCount(12345)
	if w := g.Width(); w != 8 {
		t.Errorf("expected width 8 for 12345 lines, got %d", w)
	}

	cfg := DefaultConfig()
	cfg.ShowSigns = false
	cfg.LineNumberWidth = 5
	g = New(cfg)
	g.SetLineCount(1000000)
	if w := g.Width(); w != 6 {
		t.Errorf("expected fixed width 6, got %d", w)
	}
}

func TestRenderLineSigns(t *testing.T) {
	signs := NewSigns()
	signs.Set(SignBreakpoint, 2, 4)
	signs.Set(SignCurrentLine, 4)

	g := New(DefaultConfig())
	g.SetSignProvider(signs)
	g.SetLineCount(5)

	tests := []struct {
		line int
		want string
	}{
		{1, "    1 "},
		{2, "*   2 "},
		{4, "*>  4 "},
	}
	for _, tt := range tests {
		got := cellString(g.RenderLine(tt.line, true))
		if got != tt.want {
			t.Errorf("line %d: expected %q, got %q", tt.line, tt.want, got)
		}
	}
}

func TestRenderLineNotVisible(t *testing.T) {
	g := New(DefaultConfig())
	got := cellString(g.RenderLine(9, false))
	if got != "    ~ " {
		t.Errorf("expected tilde row, got %q", got)
	}
}

func TestCurrentLineStyle(t *testing.T) {
	g := New(DefaultConfig())
	g.SetCurrentLine(3)

	cells := g.RenderLine(3, true)
	if cells[4].Style != StyleCurrentLine {
		t.Errorf("expected current line style, got %d", cells[4].Style)
	}
	cells = g.RenderLine(2, true)
	if cells[4].Style != StyleDim {
		t.Errorf("expected dim style, got %d", cells[4].Style)
	}
}

func TestSignPriority(t *testing.T) {
	got := byPriority([]Sign{
		{Line: 1, Type: SignCurrentLine},
		{Line: 1, Type: SignBreakpointUnverified},
		{Line: 1, Type: SignBreakpoint},
		{Line: 1, Type: SignBreakpoint},
		{Line: 1, Type: SignNone},
	})
	want := []SignType{SignBreakpoint, SignBreakpointUnverified, SignCurrentLine}
	if len(got) != len(want) {
		t.Fatalf("expected %d signs, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("sign %d: expected %d, got %d", i, want[i], got[i].Type)
		}
	}
}

func TestRender(t *testing.T) {
	signs := NewSigns()
	signs.Set(SignBreakpoint, 1)

	g := New(DefaultConfig())
	g.SetSignProvider(signs)

	got := g.Render([]string{"a = 1", "b = 2"})
	want := "*   1 a = 1\n    2 b = 2\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSignsClear(t *testing.T) {
	signs := NewSigns()
	signs.Set(SignBreakpoint, 3, 0, -1)
	if n := len(signs.SignsForLine(3)); n != 1 {
		t.Fatalf("expected 1 sign, got %d", n)
	}
	signs.Clear(SignBreakpoint)
	if n := len(signs.SignsForLine(3)); n != 0 {
		t.Errorf("expected no signs after clear, got %d", n)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{-3, "0"},
		{7, "7"},
		{1234567, "1234567"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func cellString(cells []Cell) string {
	rs := make([]rune, len(cells))
	for i, c := range cells {
		rs[i] = c.Rune
	}
	return string(rs)
}
