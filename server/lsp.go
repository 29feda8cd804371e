// Package server exposes an interpreter environment to editors over the
// Language Server Protocol.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
	"github.com/chazu/brick/parser"
	"github.com/chazu/brick/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "brick-lsp"

var log = commonlog.GetLogger("brick.server")

// LspServer bridges LSP editor features to an environment via VMWorker.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server over env.
func NewLSP(env *vm.Env) *LspServer {
	s := &LspServer{
		worker:  NewVMWorker(env),
		docs:    make(map[string]string),
		version: "0.1.0",
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
	return s.server.RunStdio()
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("brick LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{":", "'", "/"},
	}

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

// ---------------------------------------------------------------------------
// Document synchronization
// ---------------------------------------------------------------------------

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(t *vm.Thread) any {
		return complete(t.Env(), text, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(t *vm.Thread) any {
		return hover(t.Env(), word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	var locations []protocol.Location
	for _, occ := range occurrences(text, word) {
		if occ.set {
			locations = append(locations, protocol.Location{URI: uri, Range: occ.rng})
		}
	}
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	s.mu.Lock()
	docs := make(map[string]string, len(s.docs))
	uris := make([]string, 0, len(s.docs))
	for uri, text := range s.docs {
		docs[uri] = text
		uris = append(uris, uri)
	}
	s.mu.Unlock()
	sort.Strings(uris)

	var locations []protocol.Location
	for _, uri := range uris {
		for _, occ := range occurrences(docs[uri], word) {
			if occ.set && !params.Context.IncludeDeclaration {
				continue
			}
			locations = append(locations, protocol.Location{URI: protocol.DocumentUri(uri), Range: occ.rng})
		}
	}
	return locations, nil
}

// ---------------------------------------------------------------------------
// Environment-backed logic (called on the worker goroutine)
// ---------------------------------------------------------------------------

const maxCompletionItems = 100

// complete offers module words and the document's own set-words that start
// with prefix.
func complete(env *vm.Env, text, prefix string) []protocol.CompletionItem {
	lowerPrefix := strings.ToLower(prefix)
	seen := make(map[string]bool)
	var items []protocol.CompletionItem

	add := func(name string, kind protocol.CompletionItemKind, detail string) {
		if seen[name] || !strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			return
		}
		seen[name] = true
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	mod := env.Module()
	for _, a := range mod.Names() {
		name := env.Atoms.Name(a)
		if name == "" {
			continue
		}
		i, _ := mod.Lookup(a)
		v := mod.At(i)
		if v.T == cell.TypeUnset {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		if v.T.IsCallable() {
			kind = protocol.CompletionItemKindFunction
		}
		add(name, kind, cell.MaskOf(v.T).String())
	}

	lex := parser.NewLexer(text)
	for tok := lex.NextToken(); tok.Type != parser.TokenEOF; tok = lex.NextToken() {
		if tok.Type == parser.TokenSetWord {
			add(tok.Literal, protocol.CompletionItemKindVariable, "local")
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	if len(items) > maxCompletionItems {
		items = items[:maxCompletionItems]
	}
	return items
}

// hover describes the module value of word. Functions show their argument
// program.
func hover(env *vm.Env, word string) *protocol.Hover {
	v, ok := env.Get(word)
	if !ok || v.T == cell.TypeUnset {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`\n\n", word, cell.MaskOf(v.T))

	if p := env.Program(&v); p != nil {
		if v.T == cell.TypeCFunc {
			b.WriteString("native function\n\n")
		} else {
			b.WriteString("function\n\n")
		}
		b.WriteString("```\n")
		b.WriteString(compiler.Disassemble(p, env.Atoms.Name))
		b.WriteString("\n```\n")
	} else {
		fmt.Fprintf(&b, "```\n%s\n```\n", truncate(env.Mold(v), maxHoverValue))
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// diagnose parses text into a scratch store and reports the first syntax
// error.
func diagnose(text string) []protocol.Diagnostic {
	_, err := parser.Parse(text, cell.NewAtomTable(), cell.NewStore())
	if err == nil {
		return []protocol.Diagnostic{}
	}

	start := protocol.Position{}
	var se *parser.SyntaxError
	if errors.As(err, &se) {
		start = protocol.Position{Line: uint32(se.Line - 1), Character: uint32(se.Col - 1)}
	}
	end := start
	end.Character++

	severity := protocol.DiagnosticSeverityError
	source := lspName
	msg := err.Error()
	if se != nil {
		msg = se.Msg
	}
	return []protocol.Diagnostic{{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// ---------------------------------------------------------------------------
// Text helpers
// ---------------------------------------------------------------------------

// occurrence is a word token naming a given word.
type occurrence struct {
	rng protocol.Range
	set bool // set-word
}

// occurrences lexes text and returns every word-like token named word.
// Lexing stops at the first error token.
func occurrences(text, word string) []occurrence {
	var out []occurrence
	lex := parser.NewLexer(text)
	for tok := lex.NextToken(); tok.Type != parser.TokenEOF && tok.Type != parser.TokenError; tok = lex.NextToken() {
		if tok.Literal != word {
			continue
		}
		sigil := 0
		switch tok.Type {
		case parser.TokenWord, parser.TokenSetWord:
		case parser.TokenGetWord, parser.TokenLitWord:
			sigil = 1
		default:
			continue
		}
		line := uint32(tok.Pos.Line - 1)
		col := uint32(tok.Pos.Column - 1 + sigil)
		n := uint32(utf8.RuneCountInString(word))
		out = append(out, occurrence{
			rng: protocol.Range{
				Start: protocol.Position{Line: line, Character: col},
				End:   protocol.Position{Line: line, Character: col + n},
			},
			set: tok.Type == parser.TokenSetWord,
		})
	}
	return out
}

// isWordChar reports whether r can appear inside a word name.
func isWordChar(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	return !strings.ContainsRune("[]()\";:/'", r)
}

func lineAt(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full word under the cursor, without sigils.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(line[end]) {
		end++
	}
	return string(line[start:end])
}

// maxHoverValue bounds the runes of a value shown in a hover.
const maxHoverValue = 200

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func boolPtr(b bool) *bool {
	return &b
}
