package server

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/stck/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "stck-lsp"

// LspServer bridges LSP editor features to the stck front end via Worker.
type LspServer struct {
	worker *Worker

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger

	// notify publishes a notification to the client. It defaults to the
	// request context's Notify.
	notify func(ctx *glsp.Context, method string, params any)
}

// NewLSP creates a new LSP server that analyzes documents with cfg.
func NewLSP(cfg Config, version string) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace(cfg)),
		version: version,
		log:     commonlog.GetLogger("stck.lsp"),
		notify: func(ctx *glsp.Context, method string, params any) {
			go ctx.Notify(method, params)
		},
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	defer s.worker.Stop()
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("stck LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	return s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	whole, ok := last.(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return nil
	}
	return s.update(ctx, params.TextDocument.URI, whole.Text)
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	result, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Close(uriToPath(uri))
	})
	if err != nil {
		return err
	}

	// Clear diagnostics for the closed document
	s.notify(ctx, protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	s.publish(ctx, result.([]*Snapshot))
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) error {
	result, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Update(uriToPath(uri), text)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, result.([]*Snapshot))
	return nil
}

// --- Diagnostics ---

func (s *LspServer) publish(ctx *glsp.Context, snaps []*Snapshot) {
	for _, snap := range snaps {
		s.notify(ctx, protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         pathToURI(snap.Path),
			Diagnostics: toProtocolDiagnostics(snap),
		})
	}
}

// toProtocolDiagnostics converts the diagnostics of a snapshot. A
// diagnostic located in another file (an included library) is reported
// at the top of the document with the real location as related
// information.
func toProtocolDiagnostics(snap *Snapshot) []protocol.Diagnostic {
	source := lspName
	out := []protocol.Diagnostic{}
	for _, d := range snap.Diagnostics {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == compiler.SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		code := protocol.IntegerOrString{Value: d.Kind.String()}

		pd := protocol.Diagnostic{
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  d.Message,
		}
		if d.Location.IsZero() || d.Location.File.Path != snap.Path {
			if !d.Location.IsZero() {
				pd.RelatedInformation = append(pd.RelatedInformation, protocol.DiagnosticRelatedInformation{
					Location: toProtocolLocation(d.Location),
					Message:  d.Message,
				})
			}
		} else {
			pd.Range = toRange(d.Location)
		}

		for _, n := range d.Notes {
			if n.Location.IsZero() {
				pd.Message += "\n" + n.Message
				continue
			}
			pd.RelatedInformation = append(pd.RelatedInformation, protocol.DiagnosticRelatedInformation{
				Location: toProtocolLocation(n.Location),
				Message:  n.Message,
			})
		}
		out = append(out, pd)
	}
	return out
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	path := uriToPath(params.TextDocument.URI)
	result, err := s.worker.Do(func(ws *Workspace) any {
		text, ok := ws.Text(path)
		if !ok {
			return nil
		}
		prefix := extractPrefix(text, params.Position)
		if prefix == "" {
			return nil
		}
		return complete(ws.Snapshot(path), prefix)
	})
	if err != nil || result == nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	path := uriToPath(params.TextDocument.URI)
	result, err := s.worker.Do(func(ws *Workspace) any {
		text, ok := ws.Text(path)
		if !ok {
			return nil
		}
		return hover(ws.Snapshot(path), extractWord(text, params.Position))
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	path := uriToPath(params.TextDocument.URI)
	result, err := s.worker.Do(func(ws *Workspace) any {
		text, ok := ws.Text(path)
		if !ok {
			return nil
		}
		return definition(ws.Snapshot(path), extractWord(text, params.Position))
	})
	if err != nil {
		return nil, nil
	}
	if locations, _ := result.([]protocol.Location); len(locations) > 0 {
		return locations, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	path := uriToPath(params.TextDocument.URI)
	result, err := s.worker.Do(func(ws *Workspace) any {
		text, ok := ws.Text(path)
		if !ok {
			return nil
		}
		return references(ws.Snapshot(path), extractWord(text, params.Position), params.Context.IncludeDeclaration)
	})
	if err != nil {
		return nil, nil
	}
	locations, _ := result.([]protocol.Location)
	return locations, nil
}

// --- Analysis-backed logic (called on worker goroutine) ---

func complete(snap *Snapshot, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		l, d := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      l,
			Kind:       &kind,
			Detail:     &d,
			InsertText: &l,
		})
	}

	if snap != nil && snap.Program != nil {
		prog := snap.Program
		for _, p := range prog.OrderedProcs() {
			add(p.Name, protocol.CompletionItemKindFunction, procDetail(p))
		}
		for _, c := range prog.OrderedConsts() {
			add(c.Name, protocol.CompletionItemKindConstant, "const")
		}
		for _, m := range prog.OrderedMemories() {
			add(m.Name, protocol.CompletionItemKindVariable, fmt.Sprintf("memory (%d bytes)", m.Size))
		}
		macros := make([]string, 0, len(prog.Macros))
		for name := range prog.Macros {
			macros = append(macros, name)
		}
		sort.Strings(macros)
		for _, name := range macros {
			add(name, protocol.CompletionItemKindSnippet, "macro")
		}
	}
	for _, name := range compiler.IntrinsicNames() {
		add(name, protocol.CompletionItemKindOperator, intrinsicEffects[name])
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(snap *Snapshot, word string) *protocol.Hover {
	if word == "" {
		return nil
	}

	var b strings.Builder
	switch {
	case snap != nil && snap.Program != nil && snap.Program.Procs[word] != nil:
		p := snap.Program.Procs[word]
		fmt.Fprintf(&b, "```stck\n%s\n```", procHeader(p))
		if p.Inferred {
			b.WriteString("\n\nSignature inferred from the body.")
		}
	case snap != nil && snap.Program != nil && snap.Program.Consts[word] != nil:
		c := snap.Program.Consts[word]
		fmt.Fprintf(&b, "**const** `%s`", c.Name)
		if c.Value != nil {
			fmt.Fprintf(&b, " = `%s`", constValue(c))
		}
	case snap != nil && snap.Program != nil && snap.Program.Memories[word] != nil:
		m := snap.Program.Memories[word]
		fmt.Fprintf(&b, "**memory** `%s`: %d bytes at offset %d", m.Name, m.Size, m.Offset)
	case snap != nil && snap.Program != nil && snap.Program.Macros[word] != nil:
		m := snap.Program.Macros[word]
		fmt.Fprintf(&b, "**macro** `%s`: %d tokens", m.Name, len(m.Body))
	default:
		effect, ok := intrinsicEffects[word]
		if !ok {
			return nil
		}
		fmt.Fprintf(&b, "**intrinsic** `%s`\n\n`%s`", word, effect)
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func definition(snap *Snapshot, word string) []protocol.Location {
	if word == "" || snap == nil || snap.Program == nil {
		return nil
	}
	loc, ok := snap.Program.Definition(word)
	if !ok || loc.IsZero() {
		return nil
	}
	return []protocol.Location{toProtocolLocation(loc)}
}

// references lists every use of a procedure, constant or memory in the
// procedure bodies of the program.
func references(snap *Snapshot, word string, includeDecl bool) []protocol.Location {
	if word == "" || snap == nil || snap.Program == nil {
		return nil
	}
	prog := snap.Program

	var locations []protocol.Location
	if includeDecl {
		if loc, ok := prog.Definition(word); ok && !loc.IsZero() {
			locations = append(locations, toProtocolLocation(loc))
		}
	}

	var walk func(body []compiler.Expr)
	walk = func(body []compiler.Expr) {
		for _, e := range body {
			switch n := e.(type) {
			case *compiler.Word:
				if n.Name == word && n.Kind != compiler.WordBinding && !n.Location.IsZero() {
					locations = append(locations, toProtocolLocation(n.Location))
				}
			case *compiler.If:
				walk(n.Cond)
				walk(n.Then)
				walk(n.Else)
			case *compiler.While:
				walk(n.Cond)
				walk(n.Body)
			case *compiler.Let:
				walk(n.Body)
			}
		}
	}
	for _, p := range prog.OrderedProcs() {
		walk(p.Body)
	}
	for _, c := range prog.OrderedConsts() {
		walk(c.Body)
	}
	for _, m := range prog.OrderedMemories() {
		walk(m.SizeExpr)
	}
	return locations
}

func procHeader(p *compiler.Proc) string {
	var b strings.Builder
	if p.Inline {
		b.WriteString("inline ")
	}
	if p.Unsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("proc ")
	b.WriteString(p.Name)
	if p.Signature != nil {
		b.WriteString(" ")
		b.WriteString(p.Signature.String())
	}
	return b.String()
}

func procDetail(p *compiler.Proc) string {
	if p.Signature == nil {
		return "proc"
	}
	return "proc " + p.Signature.String()
}

func constValue(c *compiler.Const) string {
	if c.Value.Type == compiler.LitBool {
		if c.Value.Int != 0 {
			return "true"
		}
		return "false"
	}
	if c.Type != nil && c.Type.Kind != compiler.TypeInt {
		return fmt.Sprintf("%d as %s", c.Value.Int, c.Type)
	}
	return fmt.Sprint(c.Value.Int)
}

// --- Position conversion ---

func toRange(loc compiler.Location) protocol.Range {
	start, end := loc.Start(), loc.End()
	return protocol.Range{
		Start: protocol.Position{Line: uint32(start.Line - 1), Character: uint32(start.Column - 1)},
		End:   protocol.Position{Line: uint32(end.Line - 1), Character: uint32(end.Column - 1)},
	}
}

func toProtocolLocation(loc compiler.Location) protocol.Location {
	return protocol.Location{URI: pathToURI(loc.File.Path), Range: toRange(loc)}
}

// uriToPath converts a file:// URI to a local path. Other URIs are used
// verbatim as document keys.
func uriToPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return filepath.FromSlash(u.Path)
}

func pathToURI(path string) protocol.DocumentUri {
	if !filepath.IsAbs(path) {
		return protocol.DocumentUri(path)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return protocol.DocumentUri(u.String())
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && !unicode.IsSpace(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full word under the cursor. Words are
// whitespace-delimited, so `<dump-stack>` and `ptr-to` are single words.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Find start
	start := col
	for start > 0 && !unicode.IsSpace(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && !unicode.IsSpace(rune(line[end])) {
		end++
	}

	return line[start:end]
}

func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := strings.TrimSuffix(lines[pos.Line], "\r")
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

func boolPtr(b bool) *bool {
	return &b
}
