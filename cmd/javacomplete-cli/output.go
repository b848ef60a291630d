package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/shehackedyou/javacomplete"
)

const maxWordWidth = 40

var (
	styleWord  = color.New(color.Bold).SprintFunc()
	styleMenu  = color.New(color.FgCyan).SprintFunc()
	styleDim   = color.New(color.Faint).SprintFunc()
	styleAdded = color.New(color.FgGreen).SprintFunc()
	styleWarn  = color.New(color.FgYellow).SprintFunc()
	stylePath  = color.New(color.FgBlue, color.Underline).SprintFunc()
)

// printCompletionMenu prints one item per line: the word padded to a common display
// width, then the menu text.
func printCompletionMenu(w io.Writer, result javacomplete.CompletionResult) {
	width := 0
	for _, item := range result.Items {
		width = max(width, runewidth.StringWidth(item.Word))
	}
	width = min(width, maxWordWidth)

	for _, item := range result.Items {
		word := runewidth.Truncate(item.Word, maxWordWidth, "…")
		word = runewidth.FillRight(word, width)
		fmt.Fprintf(w, "%s  %s\n", styleWord(word), styleMenu(item.Menu))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(w, "%s\n", styleDim(fmt.Sprintf("(%d malformed entries skipped)", result.Skipped)))
	}
}

// printDocumentation prints the declaration line followed by the Javadoc.
func printDocumentation(w io.Writer, doc javacomplete.Documentation) {
	declaration := strings.TrimSpace(doc.Type + " " + doc.Name)
	if doc.Kind != "" {
		fmt.Fprintf(w, "%s %s\n", styleDim(doc.Kind+":"), styleWord(declaration))
	} else {
		fmt.Fprintln(w, styleWord(declaration))
	}
	if javadoc := strings.TrimSpace(doc.Javadoc); javadoc != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, javadoc)
	}
}

// printPendingFix lists the numbered candidates of an unresolved symbol.
func printPendingFix(w io.Writer, fix javacomplete.PendingFix) {
	fmt.Fprintf(w, "%s %s (line %d)\n", styleWarn("unresolved:"), styleWord(fix.Symbol), fix.Line)
	for i, candidate := range fix.CandidateImports {
		fmt.Fprintf(w, "  %s %s\n", styleDim(fmt.Sprintf("%d.", i+1)), candidate)
	}
}
