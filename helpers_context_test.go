// javacomplete/helpers_context_test.go
package javacomplete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractContextWindow_Fixture(t *testing.T) {
	buf := loadFixture(t, "Foo.java")
	require.Equal(t, 17, buf.Len())
	opts := ExtractOptions{MaxFullLines: 3, PrevSpan: 100, NextSpan: 2}

	tests := []struct {
		name      string
		cursor    CursorPosition
		wantStart int
		wantMode  ScopeMode
		wantEnd   int // 0-based exclusive
	}{
		{"member access after local", CursorPosition{Row: 6, Column: 15}, 3, ScopeBody, 7},
		{"member access inside if block", CursorPosition{Row: 9, Column: 19}, 3, ScopeBody, 10},
		{"declaration line itself", CursorPosition{Row: 3, Column: 10}, 3, ScopeBody, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := ExtractContextWindow(buf, tt.cursor, opts)
			assert.Equal(t, WindowPartial, window.Kind)
			assert.Equal(t, tt.wantStart, window.StartLine)
			assert.Equal(t, tt.wantMode, window.Mode)
			assert.Equal(t, joinLines(buf, tt.wantStart-1, tt.wantEnd), window.Text)
		})
	}
}

func TestExtractContextWindow_ShortBufferIsFull(t *testing.T) {
	buf := loadFixture(t, "Foo.java")
	window := ExtractContextWindow(buf, CursorPosition{Row: 6, Column: 15}, ExtractOptions{MaxFullLines: 100, PrevSpan: 10, NextSpan: 2})
	assert.Equal(t, WindowFull, window.Kind)
	assert.Equal(t, buf.String(), window.Text)
	assert.Zero(t, window.StartLine)

	empty := NewTextBuffer("")
	window = ExtractContextWindow(empty, CursorPosition{Row: 1}, ExtractOptions{MaxFullLines: 0})
	assert.Equal(t, WindowFull, window.Kind)
	assert.Empty(t, window.Text)
}

func TestExtractContextWindow_BlockWhenNoDeclarationInSpan(t *testing.T) {
	buf := loadFixture(t, "Foo.java")
	window := ExtractContextWindow(buf, CursorPosition{Row: 9, Column: 19}, ExtractOptions{MaxFullLines: 3, PrevSpan: 2, NextSpan: 0})
	assert.Equal(t, WindowPartial, window.Kind)
	assert.Equal(t, ScopeBlock, window.Mode)
	assert.Equal(t, 7, window.StartLine)
	// The cursor line is included even with no lines below it.
	assert.Equal(t, joinLines(buf, 6, 9), window.Text)
}

func TestBraceScopeFinder(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		line      int // 0-based cursor line
		wantStart int
		wantFound bool
	}{
		{
			name:      "brace inside a string literal",
			lines:     []string{"class A {", "  void m() {", `    String s = "}";`, "    s."},
			line:      3,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "brace inside a comment",
			lines:     []string{"class A {", "  void m() {", "    int x = 1; // }", "    x."},
			line:      3,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "parameter list wrapped over lines",
			lines:     []string{"class A {", "  public void m(int a,", "      int b) {", "    a."},
			line:      3,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "else if chain is skipped",
			lines:     []string{"class A {", "  void m() {", "    if (x) {", "    } else if (y) {", "      y."},
			line:      4,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "try and catch are skipped",
			lines:     []string{"class A {", "  void m() {", "    try {", "      a();", "    } catch (Exception e) {", "      e."},
			line:      5,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "control header with brace on next line",
			lines:     []string{"class A {", "  void m() {", "    for (int i = 0; i < n; i++)", "    {", "      i."},
			line:      4,
			wantStart: 1,
			wantFound: true,
		},
		{
			name:      "closed sibling method is skipped",
			lines:     []string{"class A {", "  void a() {", "  }", "  void b() {", "    this."},
			line:      4,
			wantStart: 3,
			wantFound: true,
		},
		{
			name:      "lambda body",
			lines:     []string{"class A {", "  void m() {", "    run(() -> {", "      x."},
			line:      3,
			wantStart: 2,
			wantFound: true,
		},
		{
			name:      "nothing above the upper bound",
			lines:     []string{"class A {", "  int x;"},
			line:      1,
			wantStart: 0,
			wantFound: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewTextBufferFromLines(tt.lines)
			start, found := BraceScopeFinder{}.FindScopeStart(buf, tt.line, 0)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantStart, start)
		})
	}
}

// fixedFinder always reports the same scope start.
type fixedFinder struct {
	start int
	found bool
}

func (f fixedFinder) FindScopeStart(buf LineBuffer, line, upper int) (int, bool) {
	return f.start, f.found
}

func TestContextExtractor_CustomFinder(t *testing.T) {
	buf := loadFixture(t, "Foo.java")
	opts := ExtractOptions{MaxFullLines: 3, PrevSpan: 100, NextSpan: 1}

	window := ContextExtractor{Finder: fixedFinder{start: 4, found: true}, Options: opts}.Extract(buf, CursorPosition{Row: 6})
	assert.Equal(t, 5, window.StartLine)
	assert.Equal(t, ScopeBody, window.Mode)

	// A start below the cursor line is clamped to it.
	window = ContextExtractor{Finder: fixedFinder{start: 12, found: true}, Options: opts}.Extract(buf, CursorPosition{Row: 6})
	assert.Equal(t, 6, window.StartLine)
	assert.Equal(t, joinLines(buf, 5, 6), window.Text)
}

func TestStripJavaNoise(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`int x = 1; // {`, `int x = 1; `},
		{`String s = "{\"}";`, `String s = "";`},
		{`char c = '{';`, `char c = '';`},
		{`a(/* { */ b) {`, `a( b) {`},
		{` * javadoc {@link Foo}`, ``},
		{`/** {@code x} */`, ``},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripJavaNoise(tt.in), "input %q", tt.in)
	}
}
