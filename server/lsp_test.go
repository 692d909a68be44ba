package server

import (
	"strings"
	"sync"
	"testing"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const testURI = protocol.DocumentUri("file:///proj/main.stck")

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix_SimpleWord(t *testing.T) {
	text := "1 2 ad"
	pos := protocol.Position{Line: 0, Character: 6}
	prefix := extractPrefix(text, pos)
	if prefix != "ad" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "ad")
	}
}

func TestExtractPrefix_MultiLine(t *testing.T) {
	text := "proc main do\n  42 pri\nend"
	pos := protocol.Position{Line: 1, Character: 8}
	prefix := extractPrefix(text, pos)
	if prefix != "pri" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "pri")
	}
}

func TestExtractPrefix_Punctuation(t *testing.T) {
	text := "<dump"
	pos := protocol.Position{Line: 0, Character: 5}
	prefix := extractPrefix(text, pos)
	if prefix != "<dump" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "<dump")
	}
}

func TestExtractPrefix_Empty(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
	}{
		{"", protocol.Position{Line: 0, Character: 0}},
		{"hello", protocol.Position{Line: 0, Character: 0}},
		{"hello ", protocol.Position{Line: 0, Character: 6}},
		{"single line", protocol.Position{Line: 5, Character: 0}},
	}
	for _, tt := range tests {
		if prefix := extractPrefix(tt.text, tt.pos); prefix != "" {
			t.Errorf("extractPrefix(%q, %v) = %q, want empty string", tt.text, tt.pos, prefix)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		line uint32
		char uint32
		want string
	}{
		{"dup add", 0, 1, "dup"},
		{"dup add", 0, 3, "dup"},
		{"dup add", 0, 5, "add"},
		{"m cast ptr-to int end", 0, 9, "ptr-to"},
		{"<dump-stack> drop", 0, 4, "<dump-stack>"},
		{"a\r\nbc d\r\n", 1, 1, "bc"},
		{"", 0, 0, ""},
		{"x", 3, 0, ""},
	}
	for _, tt := range tests {
		got := extractWord(tt.text, protocol.Position{Line: tt.line, Character: tt.char})
		if got != tt.want {
			t.Errorf("extractWord(%q, %d:%d) = %q, want %q", tt.text, tt.line, tt.char, got, tt.want)
		}
	}
}

func TestURIConversion(t *testing.T) {
	if got := uriToPath("file:///proj/my%20lib/a.stck"); got != "/proj/my lib/a.stck" {
		t.Errorf("uriToPath = %q", got)
	}
	if got := pathToURI("/proj/my lib/a.stck"); got != "file:///proj/my%20lib/a.stck" {
		t.Errorf("pathToURI = %q", got)
	}
	if got := uriToPath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("non-file URI = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// recorder captures published diagnostics.
type recorder struct {
	mu        sync.Mutex
	published map[protocol.DocumentUri][]protocol.Diagnostic
}

func newTestLSP(t *testing.T, files map[string]string) (*LspServer, *recorder) {
	t.Helper()
	s := NewLSP(Config{LibPaths: []string{"/lib"}}, "test")
	t.Cleanup(s.worker.Stop)

	rec := &recorder{published: make(map[protocol.DocumentUri][]protocol.Diagnostic)}
	s.notify = func(ctx *glsp.Context, method string, params any) {
		if method != protocol.ServerTextDocumentPublishDiagnostics {
			return
		}
		p := params.(protocol.PublishDiagnosticsParams)
		rec.mu.Lock()
		rec.published[p.URI] = p.Diagnostics
		rec.mu.Unlock()
	}

	for path, text := range files {
		if err := s.textDocumentDidOpen(&glsp.Context{}, &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{URI: pathToURI(path), LanguageID: "stck", Text: text},
		}); err != nil {
			t.Fatal(err)
		}
	}
	return s, rec
}

func (r *recorder) get(uri protocol.DocumentUri) ([]protocol.Diagnostic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.published[uri]
	return d, ok
}

func TestLSP_DiagnosticsOnOpen(t *testing.T) {
	_, rec := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc main do\n  1 true add print\nend\n",
	})

	diags, ok := rec.get(testURI)
	if !ok {
		t.Fatal("no diagnostics published")
	}
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if !strings.Contains(d.Message, "unexpected data on the stack for `add`") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("severity should be Error")
	}
	if d.Range.Start.Line != 1 || d.Range.Start.Character != 9 {
		t.Errorf("range start = %+v, want line 1 char 9", d.Range.Start)
	}
	if d.Code == nil || d.Code.Value != "type" {
		t.Errorf("code = %v, want type", d.Code)
	}
	if len(d.RelatedInformation) == 0 {
		t.Error("stack origins should be reported as related information")
	}
}

func TestLSP_DiagnosticsClearedOnFix(t *testing.T) {
	s, rec := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc main do 1 if end end",
	})
	if diags, _ := rec.get(testURI); len(diags) == 0 {
		t.Fatal("expected a diagnostic for the broken program")
	}

	err := s.textDocumentDidChange(&glsp.Context{}, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testURI},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: "proc main do end"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	diags, ok := rec.get(testURI)
	if !ok || len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
}

func TestLSP_DiagnosticsInIncludedFile(t *testing.T) {
	_, rec := newTestLSP(t, map[string]string{
		"/proj/util.stck": "proc broken :: int -> bool do end",
		"/proj/main.stck": "include \"./util\"\nproc main do end",
	})

	diags, _ := rec.get(testURI)
	if len(diags) != 1 {
		t.Fatalf("main: got %d diagnostics, want 1", len(diags))
	}
	if len(diags[0].RelatedInformation) == 0 || diags[0].RelatedInformation[0].Location.URI != "file:///proj/util.stck" {
		t.Errorf("error in the included file should point at it: %+v", diags[0].RelatedInformation)
	}
}

func TestLSP_WarningSeverity(t *testing.T) {
	_, rec := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc helper do drop end\nproc main do 1 helper end",
	})
	diags, _ := rec.get(testURI)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if !strings.Contains(diags[0].Message, "ambiguous signature inferred for `helper`") {
		t.Errorf("message = %q", diags[0].Message)
	}
	for _, d := range diags {
		if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityWarning {
			t.Errorf("diagnostic %q should be a warning", d.Message)
		}
	}
}

func TestLSP_Close(t *testing.T) {
	s, rec := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc main do 1 end",
	})
	if err := s.textDocumentDidClose(&glsp.Context{}, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	}); err != nil {
		t.Fatal(err)
	}
	if diags, _ := rec.get(testURI); len(diags) != 0 {
		t.Errorf("diagnostics after close = %v, want none", diags)
	}
	result, err := s.worker.Do(func(ws *Workspace) any {
		_, ok := ws.Text("/proj/main.stck")
		return ok
	})
	if err != nil || result.(bool) {
		t.Error("document should be removed after close")
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

const featureSource = `const LIMIT 10 end
memory buf 8 end
macro twice dup add end
proc double :: int -> int do 2 mul end
proc main do
  LIMIT double twice print
  buf drop
end
`

func position(line, char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
		Position:     protocol.Position{Line: line, Character: char},
	}
}

func hoverText(t *testing.T, s *LspServer, line, char uint32) string {
	t.Helper()
	h, err := s.textDocumentHover(&glsp.Context{}, &protocol.HoverParams{TextDocumentPositionParams: position(line, char)})
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		return ""
	}
	return h.Contents.(protocol.MarkupContent).Value
}

func TestLSP_Hover(t *testing.T) {
	s, _ := newTestLSP(t, map[string]string{"/proj/main.stck": featureSource})

	tests := []struct {
		line, char uint32
		want       string
	}{
		{5, 9, "proc double :: int -> int"},
		{5, 3, "**const** `LIMIT` = `10`"},
		{6, 3, "**memory** `buf`: 8 bytes at offset 0"},
		{5, 18, "**macro** `twice`"},
		{5, 25, "**intrinsic** `print`"},
	}
	for _, tt := range tests {
		if got := hoverText(t, s, tt.line, tt.char); !strings.Contains(got, tt.want) {
			t.Errorf("hover at %d:%d = %q, want %q", tt.line, tt.char, got, tt.want)
		}
	}

	if got := hoverText(t, s, 4, 11); got != "" {
		t.Errorf("hover on a keyword = %q, want nothing", got)
	}
}

func TestLSP_HoverInferredSignature(t *testing.T) {
	s, _ := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc inc do 1 add end\nproc main do 1 inc print end",
	})
	got := hoverText(t, s, 1, 16)
	if !strings.Contains(got, "proc inc :: int -> int") || !strings.Contains(got, "inferred") {
		t.Errorf("hover = %q", got)
	}
}

func TestLSP_Definition(t *testing.T) {
	s, _ := newTestLSP(t, map[string]string{"/proj/main.stck": featureSource})

	result, err := s.textDocumentDefinition(&glsp.Context{}, &protocol.DefinitionParams{TextDocumentPositionParams: position(5, 9)})
	if err != nil {
		t.Fatal(err)
	}
	locations, ok := result.([]protocol.Location)
	if !ok || len(locations) != 1 {
		t.Fatalf("definition = %v", result)
	}
	if locations[0].URI != testURI || locations[0].Range.Start.Line != 3 {
		t.Errorf("definition = %+v, want line 3 of main.stck", locations[0])
	}

	result, _ = s.textDocumentDefinition(&glsp.Context{}, &protocol.DefinitionParams{TextDocumentPositionParams: position(5, 25)})
	if result != nil {
		t.Errorf("definition of an intrinsic = %v, want nil", result)
	}
}

func TestLSP_References(t *testing.T) {
	s, _ := newTestLSP(t, map[string]string{
		"/proj/main.stck": "proc f do end\nproc main do f f end",
	})

	params := &protocol.ReferenceParams{TextDocumentPositionParams: position(1, 13)}
	locations, err := s.textDocumentReferences(&glsp.Context{}, params)
	if err != nil {
		t.Fatal(err)
	}
	if len(locations) != 2 {
		t.Errorf("got %d references, want 2", len(locations))
	}

	params.Context.IncludeDeclaration = true
	locations, _ = s.textDocumentReferences(&glsp.Context{}, params)
	if len(locations) != 3 {
		t.Errorf("got %d references with the declaration, want 3", len(locations))
	}
}

func TestLSP_Complete(t *testing.T) {
	s, _ := newTestLSP(t, map[string]string{"/proj/main.stck": featureSource})

	// Break the document; completion falls back to the last program that parsed.
	err := s.textDocumentDidChange(&glsp.Context{}, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testURI},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: featureSource + "proc other do dou"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.textDocumentCompletion(&glsp.Context{}, &protocol.CompletionParams{
		TextDocumentPositionParams: position(8, 17),
	})
	if err != nil {
		t.Fatal(err)
	}
	items, _ := result.([]protocol.CompletionItem)
	var labels []string
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	if len(labels) != 1 || labels[0] != "double" {
		t.Errorf("completions = %v, want [double]", labels)
	}
}

func TestComplete(t *testing.T) {
	ws := NewWorkspace(Config{})
	snap := ws.Update("/proj/main.stck", featureSource)[0]

	labels := func(prefix string) []string {
		var out []string
		for _, item := range complete(snap, prefix) {
			out = append(out, item.Label)
		}
		return out
	}

	if got := labels("dou"); len(got) != 1 || got[0] != "double" {
		t.Errorf("complete(dou) = %v", got)
	}
	if got := strings.Join(labels("d"), ","); got != "double,divmod,dup,drop,dup2,do" {
		t.Errorf("complete(d) = %v", got)
	}
	if got := labels("tw"); len(got) != 1 || got[0] != "twice" {
		t.Errorf("complete(tw) = %v", got)
	}
	for _, item := range complete(snap, "swap2") {
		if item.Detail == nil || *item.Detail != ":: a b c d -> d c b a" {
			t.Errorf("swap2 detail = %v", item.Detail)
		}
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil {
		t.Fatal("boolPtr should not return nil")
	}
	if *p != true {
		t.Errorf("boolPtr(true) = %v, want true", *p)
	}
}
