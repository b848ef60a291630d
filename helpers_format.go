// javacomplete/helpers_format.go
// Contains response parsing and completion menu formatting.
package javacomplete

import (
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ============================================================================
// Completion Formatting
// ============================================================================

// completionFormatter renders a single entry of a completion group.
type completionFormatter func(entry gjson.Result) (CompletionItem, error)

// completionFormatters has one formatter per CompletionKind.
var completionFormatters = map[CompletionKind]completionFormatter{
	CompletionField:  formatField,
	CompletionMethod: formatMethod,
	CompletionClass:  formatClass,
}

// FormatCompletion renders one raw JSON entry of the given kind.
func FormatCompletion(kind CompletionKind, entry []byte) (CompletionItem, error) {
	if !gjson.ValidBytes(entry) {
		return CompletionItem{}, errors.Mark(errors.New("entry is not valid JSON"), ErrMalformedEntry)
	}
	return formatEntry(kind, gjson.ParseBytes(entry))
}

func formatEntry(kind CompletionKind, entry gjson.Result) (CompletionItem, error) {
	format, ok := completionFormatters[kind]
	if !ok {
		return CompletionItem{}, errors.Mark(errors.Newf("no formatter for %s", kind), ErrUnknownCompletionKind)
	}
	if !entry.IsObject() {
		return CompletionItem{}, errors.Mark(errors.Newf("%s entry is not an object", kind), ErrMalformedEntry)
	}
	item, err := format(entry)
	if err != nil {
		return CompletionItem{}, err
	}
	item.Kind = kind
	return item, nil
}

func formatField(entry gjson.Result) (CompletionItem, error) {
	name, err := requireString(entry, "name")
	if err != nil {
		return CompletionItem{}, err
	}
	typ, err := requireString(entry, "type")
	if err != nil {
		return CompletionItem{}, err
	}
	return CompletionItem{
		Word: name,
		Menu: "field: " + typ + " " + name,
		Info: withJavadoc(joinNonEmpty(entry.Get("mods").String(), typ, name), entry),
	}, nil
}

func formatMethod(entry gjson.Result) (CompletionItem, error) {
	m, err := parseMethodSignature(entry)
	if err != nil {
		return CompletionItem{}, err
	}
	return CompletionItem{
		Word: m.Name,
		Menu: "method: " + m.Qualified,
		Info: withJavadoc(joinNonEmpty(m.Mods, m.Returns, m.Name)+"("+formatParams(m.Params, "")+")", entry),
	}, nil
}

func formatClass(entry gjson.Result) (CompletionItem, error) {
	name, err := requireString(entry, "name")
	if err != nil {
		return CompletionItem{}, err
	}
	qualified := entry.Get("qualified").String()
	if qualified == "" {
		qualified = name
	}
	return CompletionItem{
		Word: name,
		Menu: "class: " + qualified,
		Info: withJavadoc(joinNonEmpty(entry.Get("mods").String(), "class", qualified), entry),
	}, nil
}

// parseMethodSignature reads a method entry. name and returns are required; params
// must be a list of {type, name} when present.
func parseMethodSignature(entry gjson.Result) (MethodSignature, error) {
	name, err := requireString(entry, "name")
	if err != nil {
		return MethodSignature{}, err
	}
	returns, err := requireString(entry, "returns")
	if err != nil {
		return MethodSignature{}, err
	}
	m := MethodSignature{
		Name:      name,
		Qualified: entry.Get("qualified").String(),
		Mods:      entry.Get("mods").String(),
		Returns:   returns,
		Javadoc:   entry.Get("javadoc").String(),
	}
	if m.Qualified == "" {
		m.Qualified = name
	}

	params := entry.Get("params")
	if params.Exists() && !params.IsArray() {
		return MethodSignature{}, errors.Mark(errors.Newf("method %s: params is not a list", name), ErrMalformedEntry)
	}
	for i, p := range params.Array() {
		ptype, perr := requireString(p, "type")
		if perr != nil {
			return MethodSignature{}, errors.Wrapf(perr, "method %s param %d", name, i)
		}
		pname, perr := requireString(p, "name")
		if perr != nil {
			return MethodSignature{}, errors.Wrapf(perr, "method %s param %d", name, i)
		}
		m.Params = append(m.Params, MethodParam{Type: ptype, Name: pname})
	}
	return m, nil
}

func requireString(entry gjson.Result, key string) (string, error) {
	v := entry.Get(key)
	if !v.Exists() || v.Type != gjson.String || v.Str == "" {
		return "", errors.Mark(errors.Newf("missing or non-string %q", key), ErrMalformedEntry)
	}
	return v.Str, nil
}

func formatParams(params []MethodParam, prefix string) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = prefix + p.Type + " " + p.Name
	}
	return strings.Join(parts, ", ")
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func withJavadoc(info string, entry gjson.Result) string {
	if doc := entry.Get("javadoc").String(); doc != "" {
		return info + "\n\n" + doc
	}
	return info
}

// BuildImplementationSnippet renders an @Override stub for m in snippet syntax.
func BuildImplementationSnippet(m MethodSignature) string {
	mods := make([]string, 0, 2)
	for _, mod := range strings.Fields(m.Mods) {
		if mod != "abstract" {
			mods = append(mods, mod)
		}
	}
	var sb strings.Builder
	sb.WriteString("@Override\n")
	sb.WriteString(joinNonEmpty(strings.Join(mods, " "), m.Returns, m.Name))
	sb.WriteString("(")
	sb.WriteString(formatParams(m.Params, "final "))
	sb.WriteString(") {\n\t${1:// TODO Auto-generated method stub}\n}")
	return sb.String()
}

// ============================================================================
// Response Parsing
// ============================================================================

// parsedCompletion is a completion response after formatting.
type parsedCompletion struct {
	Result  CompletionResult
	Methods []MethodSignature // Method entries, kept for the implement flow.
	HasSpan bool              // start.ch and end.ch were both present.
}

// parseCompletionResponse renders a suggest/implement response. Entries that fail to
// format and groups of unknown kind are skipped and logged; the rest is returned.
func parseCompletionResponse(endpoint string, body []byte, logger *slog.Logger) (parsedCompletion, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := parseResponseRoot(endpoint, body)
	if err != nil {
		return parsedCompletion{}, err
	}
	results := root.Get("results")
	if !results.IsObject() {
		return parsedCompletion{}, errors.Mark(errors.Newf("%s: response has no results object", endpoint), ErrProtocol)
	}

	var out parsedCompletion
	start, end := root.Get("start.ch"), root.Get("end.ch")
	out.HasSpan = start.Exists() && end.Exists()
	out.Result.Start = int(start.Int())
	out.Result.End = int(end.Int())
	out.Result.Items = []CompletionItem{}

	results.ForEach(func(key, group gjson.Result) bool {
		entries := group.Array()
		kind, kerr := ParseCompletionKind(key.String())
		if kerr != nil {
			logger.Warn("Skipping completion group", "endpoint", endpoint, "kind", key.String(), "entries", len(entries), "error", kerr)
			out.Result.Skipped += len(entries)
			return true
		}
		for i, entry := range entries {
			item, ferr := formatEntry(kind, entry)
			if ferr != nil {
				logger.Warn("Skipping malformed completion entry", "endpoint", endpoint, "kind", kind.String(), "index", i, "error", ferr)
				out.Result.Skipped++
				continue
			}
			out.Result.Items = append(out.Result.Items, item)
			if kind == CompletionMethod {
				if m, merr := parseMethodSignature(entry); merr == nil {
					out.Methods = append(out.Methods, m)
				}
			}
		}
		return true
	})
	return out, nil
}

// parseUpdateResponse reads {missing: [{name, pos:{line,ch}, imports:[...]}]}.
func parseUpdateResponse(body []byte, logger *slog.Logger) ([]MissingSymbol, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := parseResponseRoot("update", body)
	if err != nil {
		return nil, err
	}
	var missing []MissingSymbol
	for i, m := range root.Get("missing").Array() {
		name, nerr := requireString(m, "name")
		if nerr != nil {
			logger.Debug("Skipping malformed missing-symbol entry", "index", i, "error", nerr)
			continue
		}
		sym := MissingSymbol{
			Name:   name,
			Line:   int(m.Get("pos.line").Int()),
			Column: int(m.Get("pos.ch").Int()),
		}
		for _, imp := range m.Get("imports").Array() {
			if imp.Type == gjson.String {
				sym.Imports = append(sym.Imports, imp.Str)
			}
		}
		missing = append(missing, sym)
	}
	return missing, nil
}

// parseDefineResponse reads {line, path}. A response without a path refers to
// requestPath.
func parseDefineResponse(body []byte, requestPath string) (Definition, error) {
	root, err := parseResponseRoot("define", body)
	if err != nil {
		return Definition{}, err
	}
	line := root.Get("line")
	if !line.Exists() || line.Type != gjson.Number {
		return Definition{}, errors.Mark(errors.New("define: response has no line"), ErrProtocol)
	}
	path := root.Get("path").String()
	if path == "" {
		path = requestPath
	}
	return Definition{Path: path, Line: int(line.Int())}, nil
}

// parseDocumentResponse reads {type, result: {name, type|returns, javadoc}}.
func parseDocumentResponse(body []byte) (Documentation, error) {
	root, err := parseResponseRoot("document", body)
	if err != nil {
		return Documentation{}, err
	}
	result := root.Get("result")
	if !result.IsObject() {
		return Documentation{}, errors.Mark(errors.New("document: response has no result"), ErrProtocol)
	}
	doc := Documentation{
		Kind:    root.Get("type").String(),
		Name:    result.Get("name").String(),
		Type:    result.Get("type").String(),
		Javadoc: result.Get("javadoc").String(),
	}
	if doc.Type == "" {
		doc.Type = result.Get("returns").String()
	}
	return doc, nil
}

// parseResponseRoot validates body and turns an {"error": ...} body into a protocol error.
func parseResponseRoot(endpoint string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.Mark(errors.Newf("%s: response is not valid JSON", endpoint), ErrProtocol)
	}
	root := gjson.ParseBytes(body)
	if msg := root.Get("error"); msg.Exists() {
		return gjson.Result{}, errors.Mark(&AnalyzerError{Endpoint: endpoint, Message: msg.String()}, ErrProtocol)
	}
	return root, nil
}
