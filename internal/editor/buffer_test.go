package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "a = 1\nb = 2\nc = 3\nd = 4\n"

func TestNewBuffer(t *testing.T) {
	b := NewBuffer("/src/a.py", sample)

	assert.NotEmpty(t, b.ID())
	assert.Equal(t, "/src/a.py", b.Path())
	assert.Equal(t, 4, b.LineCount())
	assert.Equal(t, sample, b.Text())
	assert.False(t, b.ReadOnly())

	line, err := b.Line(3)
	require.NoError(t, err)
	assert.Equal(t, "c = 3", line)

	_, err = b.Line(5)
	assert.ErrorIs(t, err, ErrLineOutOfRange)
}

func TestBreakpointMarkers(t *testing.T) {
	b := NewBuffer("/a.py", sample)

	b.SetBreakpointMarkers([]int{3, 1, 3, 9, 0})
	assert.Equal(t, []int{1, 3}, b.BreakpointMarkers())

	b.SetBreakpointMarkers(nil)
	assert.Empty(t, b.BreakpointMarkers())
}

func TestCurrentLine(t *testing.T) {
	b := NewBuffer("/a.py", sample)

	b.SetCurrentLine(2)
	assert.Equal(t, 2, b.CurrentLine())

	b.SetCurrentLine(10)
	assert.Equal(t, 2, b.CurrentLine())

	b.ClearCurrentLine()
	assert.Zero(t, b.CurrentLine())
}

func TestInsertLinesShiftsMarkers(t *testing.T) {
	b := NewBuffer("/a.py", sample)
	b.SetBreakpointMarkers([]int{1, 3})
	b.SetCurrentLine(3)

	changed := 0
	b.ContentChanged().Connect(func(struct{}) { changed++ })

	require.NoError(t, b.InsertLines(2, "x", "y"))
	assert.Equal(t, 6, b.LineCount())
	assert.Equal(t, []int{1, 5}, b.BreakpointMarkers())
	assert.Equal(t, 5, b.CurrentLine())
	assert.Equal(t, 1, changed)

	require.NoError(t, b.InsertLines(7, "end"))
	line, err := b.Line(7)
	require.NoError(t, err)
	assert.Equal(t, "end", line)

	assert.ErrorIs(t, b.InsertLines(0, "z"), ErrLineOutOfRange)
}

func TestDeleteLinesShiftsMarkers(t *testing.T) {
	b := NewBuffer("/a.py", sample)
	b.SetBreakpointMarkers([]int{1, 2, 4})
	b.SetCurrentLine(2)

	require.NoError(t, b.DeleteLines(2, 2))
	assert.Equal(t, "a = 1\nd = 4\n", b.Text())
	assert.Equal(t, []int{1, 2}, b.BreakpointMarkers())
	assert.Zero(t, b.CurrentLine())

	assert.ErrorIs(t, b.DeleteLines(2, 5), ErrLineOutOfRange)

	require.NoError(t, b.DeleteLines(1, 2))
	assert.Equal(t, 1, b.LineCount())
	assert.Empty(t, b.BreakpointMarkers())
}

func TestSetTextDropsMarkersPastEnd(t *testing.T) {
	b := NewBuffer("/a.py", sample)
	b.SetBreakpointMarkers([]int{1, 4})

	require.NoError(t, b.SetText("only\ntwo\n"))
	assert.Equal(t, []int{1}, b.BreakpointMarkers())
}

func TestReadOnly(t *testing.T) {
	ed := NewReadOnly("print(1)\n", "text/x-python", "/lib/x.py")
	b, ok := ed.(*Buffer)
	require.True(t, ok)

	assert.True(t, b.ReadOnly())
	assert.Equal(t, "text/x-python", b.MimeType())
	assert.ErrorIs(t, b.InsertLines(1, "x"), ErrReadOnly)
	assert.ErrorIs(t, b.DeleteLines(1, 1), ErrReadOnly)
	assert.ErrorIs(t, b.SetText("x"), ErrReadOnly)

	// Decorations still apply to read-only editors.
	b.SetBreakpointMarkers([]int{1})
	assert.Equal(t, []int{1}, b.BreakpointMarkers())
}

func TestDispose(t *testing.T) {
	b := NewBuffer("/a.py", sample)
	b.SetBreakpointMarkers([]int{1})

	disposed := 0
	clicks := 0
	b.Disposed().Connect(func(struct{}) { disposed++ })
	b.GutterClicked().Connect(func(int) { clicks++ })

	b.Dispose()
	b.Dispose()
	assert.True(t, b.IsDisposed())
	assert.Equal(t, 1, disposed)

	b.SetBreakpointMarkers([]int{2})
	b.SetCurrentLine(2)
	b.ClickGutter(2)
	assert.Equal(t, []int{1}, b.BreakpointMarkers())
	assert.Zero(t, b.CurrentLine())
	assert.Zero(t, clicks)
	assert.ErrorIs(t, b.SetText("x"), ErrDisposed)
}

func TestClickGutter(t *testing.T) {
	b := NewBuffer("/a.py", sample)

	var got []int
	b.GutterClicked().Connect(func(line int) { got = append(got, line) })
	b.ClickGutter(3)
	b.ClickGutter(1)
	assert.Equal(t, []int{3, 1}, got)
}

func TestRender(t *testing.T) {
	b := NewBuffer("/a.py", "x = 1\ny = 2\n")
	b.SetBreakpointMarkers([]int{2})
	b.SetCurrentLine(2)
	b.RevealLine(2)

	assert.Equal(t, "    1 x = 1\n*>  2 y = 2\n", b.Render())
	assert.Equal(t, 2, b.Revealed())
}
