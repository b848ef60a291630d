// javacomplete/helpers_hover.go
// Contains helper functions specifically for generating hover information.
package javacomplete

import (
	"log/slog"
	"slices"
	"strings"
)

// ============================================================================
// Hover Formatting Helper
// ============================================================================

// formatDocumentationForHover renders doc as Markdown (a java code block with the
// declaration, then the Javadoc) or as plain text. It returns "" when doc has nothing
// to show.
func formatDocumentationForHover(doc Documentation, kind MarkupKind, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	declaration := strings.TrimSpace(strings.Join([]string{doc.Type, doc.Name}, " "))
	javadoc := strings.TrimSpace(doc.Javadoc)
	if declaration == "" && javadoc == "" {
		logger.Debug("Documentation has no declaration or javadoc", "kind", doc.Kind)
		return ""
	}

	var hoverText strings.Builder
	if kind == MarkupKindMarkdown {
		if declaration != "" {
			hoverText.WriteString("```java\n")
			hoverText.WriteString(declaration)
			hoverText.WriteString("\n```")
		}
		if javadoc != "" {
			if hoverText.Len() > 0 {
				hoverText.WriteString("\n\n---\n\n")
			}
			hoverText.WriteString(javadoc)
		}
		return hoverText.String()
	}

	hoverText.WriteString(declaration)
	if javadoc != "" {
		if hoverText.Len() > 0 {
			hoverText.WriteString("\n\n")
		}
		hoverText.WriteString(javadoc)
	}
	return hoverText.String()
}

// preferredMarkupKind returns Markdown unless the client only lists plain text.
func preferredMarkupKind(caps ClientCapabilities) MarkupKind {
	if caps.TextDocument == nil || caps.TextDocument.Hover == nil || len(caps.TextDocument.Hover.ContentFormat) == 0 {
		return MarkupKindMarkdown
	}
	formats := caps.TextDocument.Hover.ContentFormat
	if slices.Contains(formats, MarkupKindMarkdown) {
		return MarkupKindMarkdown
	}
	return MarkupKindPlainText
}
