// javacomplete/helpers_imports_test.go
package javacomplete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindImportInsertionIndex(t *testing.T) {
	buf := loadFixture(t, "Awesome.java")

	tests := []struct {
		path string
		want int
	}{
		{"org.example.shapes.Faster", 9},
		{"org.example.shapes.Slower", 10},
		{"java.util.Collection", 7},
		{"java.util.Queue", 8},
		{"org.junit.Test", 11},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FindImportInsertionIndex(buf, tt.path))
		})
	}
}

func TestFindImportInsertionIndex_NoImports(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  int
	}{
		{"after package", []string{"package a;", "", "public class X {", "}"}, 1},
		{"no package", []string{"public class X {", "}"}, 0},
		{"annotated class", []string{"package a;", "", "", "@Deprecated public final class X {", "}"}, 2},
		{"package only", []string{"package a;"}, 1},
		{"empty buffer", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewTextBufferFromLines(tt.lines)
			assert.Equal(t, tt.want, FindImportInsertionIndex(buf, "java.util.List"))
		})
	}
}

func TestInsertImport(t *testing.T) {
	t.Run("sorted position", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		n, err := InsertImport(buf, "java.util.Queue")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "import java.util.HashMap;", buf.Line(7))
		assert.Equal(t, "import java.util.Queue;", buf.Line(8))
		assert.Equal(t, "", buf.Line(9))
		assert.Equal(t, 15, buf.Len())
	})

	t.Run("duplicate is left alone", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		before := buf.String()
		n, err := InsertImport(buf, "java.util.HashMap")
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, before, buf.String())
	})

	t.Run("prefix of an existing import is not a duplicate", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		n, err := InsertImport(buf, "java.util.Hash")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "import java.util.Hash;", buf.Line(7))
	})

	t.Run("successive inserts", func(t *testing.T) {
		buf := loadFixture(t, "Bare.java")
		for _, path := range []string{"java.util.Map", "java.util.List"} {
			n, err := InsertImport(buf, path)
			require.NoError(t, err)
			require.Equal(t, 1, n)
		}
		assert.Equal(t, []string{
			"package org.example.shapes;",
			"import java.util.List;",
			"import java.util.Map;",
			"",
			"public class Bare {",
			"}",
		}, buf.Lines())
	})

	t.Run("empty buffer appends", func(t *testing.T) {
		buf := NewTextBuffer("")
		n, err := InsertImport(buf, "java.util.List")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"import java.util.List;"}, buf.Lines())
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := InsertImport(nil, "java.util.List")
		assert.ErrorIs(t, err, ErrNilBuffer)

		_, err = InsertImport(NewTextBuffer("class A {}"), "  ")
		assert.Error(t, err)
	})
}

func TestIsAutoImported(t *testing.T) {
	assert.True(t, IsAutoImported("java.lang.String"))
	assert.True(t, IsAutoImported("java.lang.Override"))
	assert.False(t, IsAutoImported("java.lang.reflect.Method"))
	assert.False(t, IsAutoImported("java.util.List"))
	assert.False(t, IsAutoImported("org.java.lang.Thing"))
}

// mapPreferences is an in-memory ImportPreferences.
type mapPreferences map[string]string

func (m mapPreferences) Preferred(symbol string) (string, bool) {
	path, ok := m[symbol]
	return path, ok
}

func TestBuildPendingFixes(t *testing.T) {
	missing := []MissingSymbol{
		{Name: "String", Line: 3, Column: 4, Imports: []string{"java.lang.String"}},
		{Name: "List", Line: 4, Column: 8, Imports: []string{"java.util.List", "java.awt.List", "java.util.List", ""}},
		{Name: "Ghost", Line: 5},
		{Name: "Date", Line: 6, Imports: []string{"java.util.Date", "java.sql.Date"}},
	}

	fixes := BuildPendingFixes(missing, mapPreferences{"Date": "java.sql.Date"})
	require.Len(t, fixes, 2)

	assert.Equal(t, PendingFix{
		Description:      "Missing import for List",
		Symbol:           "List",
		Line:             4,
		Column:           8,
		CandidateImports: []string{"java.util.List", "java.awt.List"},
	}, fixes[0])
	assert.Equal(t, []string{"java.sql.Date", "java.util.Date"}, fixes[1].CandidateImports, "preferred candidate moves to the front")
}

func TestApplyImportFixes(t *testing.T) {
	fixes := func() []PendingFix {
		return []PendingFix{
			{Symbol: "Queue", Line: 13, CandidateImports: []string{"java.util.Queue"}},
			{Symbol: "List", Line: 14, CandidateImports: []string{"java.util.List", "java.awt.List"}},
			{Symbol: "Faster", Line: 14, CandidateImports: []string{"org.example.shapes.Faster"}},
		}
	}
	logger := discardLogger()

	t.Run("single candidates are applied", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		applied, pending, err := ApplyImportFixes(buf, fixes(), true, nil, logger)
		require.NoError(t, err)
		assert.Equal(t, []AppliedImport{
			{Symbol: "Queue", Path: "java.util.Queue", Index: 8},
			{Symbol: "Faster", Path: "org.example.shapes.Faster", Index: 10},
		}, applied)
		require.Len(t, pending, 1)
		assert.Equal(t, "List", pending[0].Symbol)
		assert.Equal(t, 16, pending[0].Line)
		assert.Equal(t, "import java.util.Queue;", buf.Line(8))
		assert.Equal(t, "import org.example.shapes.Faster;", buf.Line(10))
		assert.Equal(t, "public class Awesome {", buf.Line(14))
	})

	t.Run("preference resolves an ambiguous fix", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		applied, pending, err := ApplyImportFixes(buf, fixes(), true, mapPreferences{"List": "java.awt.List"}, logger)
		require.NoError(t, err)
		assert.Len(t, applied, 3)
		assert.Empty(t, pending)
		assert.Equal(t, "java.awt.List", applied[1].Path)
	})

	t.Run("auto import disabled", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		before := buf.String()
		applied, pending, err := ApplyImportFixes(buf, fixes(), false, nil, logger)
		require.NoError(t, err)
		assert.Empty(t, applied)
		assert.Equal(t, fixes(), pending)
		assert.Equal(t, before, buf.String())
	})

	t.Run("already imported symbol", func(t *testing.T) {
		buf := loadFixture(t, "Awesome.java")
		applied, pending, err := ApplyImportFixes(buf, []PendingFix{
			{Symbol: "HashMap", Line: 13, CandidateImports: []string{"java.util.HashMap"}},
		}, true, nil, logger)
		require.NoError(t, err)
		assert.Empty(t, applied)
		assert.Empty(t, pending)
	})

	t.Run("nil buffer", func(t *testing.T) {
		_, pending, err := ApplyImportFixes(nil, fixes(), true, nil, logger)
		assert.ErrorIs(t, err, ErrNilBuffer)
		assert.Len(t, pending, 3)
	})
}
