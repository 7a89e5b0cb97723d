package chunker

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/ragcore/internal/token"
)

var blankLineRegex = regexp.MustCompile(`\n[ \t]*\n`)

// paragraphSections splits raw text on blank-line boundaries.
func paragraphSections(content string) []string {
	raw := blankLineRegex.Split(content, -1)
	sections := make([]string, 0, len(raw))
	for _, sec := range raw {
		sec = strings.TrimSpace(sec)
		if sec == "" {
			continue
		}
		sections = append(sections, sec)
	}
	return sections
}

// boundSections sub-splits any section exceeding maxTokens on sentence
// boundaries, accumulating sentences until the limit.
func boundSections(sections []string, maxTokens int) []string {
	out := make([]string, 0, len(sections))
	for _, sec := range sections {
		if token.Count(sec) <= maxTokens {
			out = append(out, sec)
			continue
		}
		var buf []string
		bufTokens := 0
		for _, sentence := range splitSentences(sec) {
			n := token.Count(sentence)
			if bufTokens > 0 && bufTokens+n > maxTokens {
				out = append(out, strings.Join(buf, " "))
				buf = nil
				bufTokens = 0
			}
			// A single sentence longer than the limit is cut at the
			// token level, there is no smaller boundary left.
			if n > maxTokens {
				toks := token.Encode(sentence)
				for len(toks) > maxTokens {
					out = append(out, token.Decode(toks[:maxTokens]))
					toks = toks[maxTokens:]
				}
				sentence = token.Decode(toks)
				n = len(toks)
			}
			if n == 0 {
				continue
			}
			buf = append(buf, sentence)
			bufTokens += n
		}
		if len(buf) > 0 {
			out = append(out, strings.Join(buf, " "))
		}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if s := strings.TrimSpace(sb.String()); s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// markdownSections walks the markdown AST and emits one section per
// top-level block. Level 1/2 headings are not sections themselves, the
// heading text is carried into every section under it.
func markdownSections(content string) []string {
	md := goldmark.New()
	reader := text.NewReader([]byte(content))
	doc := md.Parser().Parse(reader)
	source := reader.Source()

	var sections []string
	var heading string
	add := func(txt string) {
		txt = strings.TrimSpace(txt)
		if txt == "" {
			return
		}
		if heading != "" {
			txt = "Heading: " + heading + "\n" + txt
		}
		sections = append(sections, txt)
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if n.Level <= 2 {
				heading = string(n.Text(source))
				continue
			}
			add(string(n.Text(source)))
		case *ast.FencedCodeBlock:
			lang := string(n.Language(source))
			var code strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				code.Write(line.Value(source))
			}
			add("```" + lang + "\n" + code.String() + "```")
		default:
			add(extractText(node, source))
		}
	}
	return sections
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
