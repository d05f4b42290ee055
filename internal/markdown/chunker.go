package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Chunk represents a section of a markdown document with header context.
type Chunk struct {
	Index      int    // Position in document (0, 1, 2...)
	Title      string // Innermost heading, empty for text before the first heading
	HeaderPath string // Hierarchy: "# Doc Title > ## Section Name"
	Content    string // Chunk content WITH header path prepended
	RawContent string // Section body without the heading line
}

// Options controls where documents are split.
type Options struct {
	MaxDepth int // Deepest heading level that starts a new chunk
	MaxChars int // Longer sections are split into overlapping windows (runes)
	MinChars int // A window is never cut shorter than this looking for whitespace
	Overlap  int // Runes repeated at the start of the next window
}

func DefaultOptions() Options {
	return Options{
		MaxDepth: 2,
		MaxChars: 4000,
		MinChars: 200,
		Overlap:  200,
	}
}

// Chunker splits markdown documents at header boundaries while preserving context.
type Chunker struct {
	parser goldmark.Markdown
	opts   Options
}

// NewChunker creates a chunker with DefaultOptions.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(DefaultOptions())
}

// NewChunkerWithOptions creates a chunker; zero fields take their default.
func NewChunkerWithOptions(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.MinChars <= 0 {
		opts.MinChars = def.MinChars
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.MaxChars {
		opts.Overlap = 0
	}

	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Chunker{
		parser: md,
		opts:   opts,
	}
}

// section is a heading-delimited byte range of the source.
type section struct {
	title string
	path  string
	body  string
}

// ChunkDocument splits markdown at heading boundaries up to MaxDepth. Front matter is
// dropped, empty sections are skipped, and oversized sections become several chunks
// sharing one header path.
func (c *Chunker) ChunkDocument(source []byte) ([]Chunk, error) {
	source = stripFrontMatter(source)
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, nil
	}

	doc := c.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(c.opts.MaxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var chunks []Chunk
	for _, s := range c.sections(doc, source, tree.Items) {
		for _, part := range splitText(s.body, c.opts) {
			content := part
			if s.path != "" {
				content = s.path + "\n\n" + part
			}
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Title:      s.title,
				HeaderPath: s.path,
				Content:    content,
				RawContent: part,
			})
		}
	}
	return chunks, nil
}

type headingRef struct {
	node  *ast.Heading
	title string
	path  string
}

// sections cuts the source at every heading listed in the TOC. Text before the first
// heading becomes a section without a path.
func (c *Chunker) sections(doc ast.Node, source []byte, items toc.Items) []section {
	nodes := headingsByID(doc)

	var refs []headingRef
	var walk func(items toc.Items, ancestors []string)
	walk = func(items toc.Items, ancestors []string) {
		for _, item := range items {
			path := ancestors
			if node, ok := nodes[string(item.ID)]; ok && node.Lines().Len() > 0 {
				path = append(append([]string(nil), ancestors...),
					strings.Repeat("#", node.Level)+" "+string(item.Title))
				refs = append(refs, headingRef{
					node:  node,
					title: string(item.Title),
					path:  strings.Join(path, " > "),
				})
			}
			walk(item.Items, path)
		}
	}
	walk(items, nil)

	if len(refs) == 0 {
		return []section{{body: string(source)}}
	}

	var out []section
	if pre := bytes.TrimSpace(source[:lineStart(source, refs[0].node.Lines().At(0).Start)]); len(pre) > 0 {
		out = append(out, section{body: string(pre)})
	}

	for i, ref := range refs {
		seg := ref.node.Lines().At(0)
		start := skipHeadingLine(source, seg.Stop)
		end := len(source)
		if i+1 < len(refs) {
			end = lineStart(source, refs[i+1].node.Lines().At(0).Start)
		}
		if start >= end {
			continue
		}
		body := strings.TrimSpace(string(source[start:end]))
		if body == "" {
			continue
		}
		out = append(out, section{title: ref.title, path: ref.path, body: body})
	}
	return out
}

// headingsByID indexes headings by their auto-generated ID.
func headingsByID(doc ast.Node) map[string]*ast.Heading {
	found := make(map[string]*ast.Heading)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if id, ok := heading.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				found[string(b)] = heading
			}
		}
		return ast.WalkSkipChildren, nil
	})
	return found
}

func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

func lineEnd(source []byte, pos int) int {
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}

// skipHeadingLine returns the offset just past a heading, including a setext underline.
func skipHeadingLine(source []byte, pos int) int {
	next := lineEnd(source, pos)
	line := bytes.TrimSpace(source[next:lineEnd(source, next)])
	if len(line) > 0 && (len(bytes.Trim(line, "=")) == 0 || len(bytes.Trim(line, "-")) == 0) {
		return lineEnd(source, next)
	}
	return next
}

// stripFrontMatter drops a leading YAML block delimited by "---" lines.
func stripFrontMatter(source []byte) []byte {
	if !bytes.HasPrefix(source, []byte("---\n")) && !bytes.HasPrefix(source, []byte("---\r\n")) {
		return source
	}
	rest := source[lineEnd(source, 0):]
	for pos := 0; pos < len(rest); {
		end := lineEnd(rest, pos)
		if string(bytes.TrimSpace(rest[pos:end])) == "---" {
			return rest[end:]
		}
		pos = end
	}
	return source
}

// splitText cuts text into windows of at most MaxChars runes, preferring whitespace
// boundaries, with Overlap runes carried into the next window.
func splitText(s string, opts Options) []string {
	clean := strings.TrimSpace(s)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	if len(runes) <= opts.MaxChars {
		return []string{clean}
	}

	var parts []string
	start := 0
	for start < len(runes) {
		end := min(start+opts.MaxChars, len(runes))
		if end < len(runes) {
			minCut := start + opts.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}

		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			parts = append(parts, part)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if opts.Overlap > 0 && end-start > opts.Overlap {
			next = end - opts.Overlap
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return parts
}
