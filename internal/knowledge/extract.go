// File: internal/knowledge/extract.go
// Description: Pulls plain text out of the reference material formats the
// report digest accepts: PDF, HTML, and plain text.

package knowledge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"golang.org/x/net/html"
)

// ExtractFile reads a reference document and returns its text content,
// dispatching on the file extension. Unknown extensions are read verbatim.
func ExtractFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ExtractPDFText(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening %q: %w", path, err)
		}
		defer f.Close()
		return ExtractHTMLText(f)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %q: %w", path, err)
		}
		return string(data), nil
	}
}

// ExtractPDFText extracts the text of every page of a PDF, in page order.
func ExtractPDFText(path string) (string, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return "", fmt.Errorf("reading PDF %q: %w", path, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return "", fmt.Errorf("invalid PDF %q: %w", path, err)
	}

	var pages []string
	for page := 1; page <= ctx.PageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(ctx, page)
		if err != nil {
			return "", fmt.Errorf("extracting page %d of %q: %w", page, path, err)
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("reading page %d of %q: %w", page, path, err)
		}
		if text := decodeContentText(content); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// decodeContentText collects the string literals of a page content stream,
// which is where the text-showing operators carry their glyphs. Hex strings
// are not decoded, so CID-encoded text is lost.
func decodeContentText(content []byte) string {
	var parts []string
	for i := 0; i < len(content); i++ {
		if content[i] != '(' {
			continue
		}
		literal, end := readLiteral(content, i)
		i = end
		if s := strings.TrimSpace(literal); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// readLiteral decodes one PDF string literal starting at content[start] == '('.
// PDF literals allow balanced nested parentheses and backslash escapes,
// including up-to-three-digit octal codes.
func readLiteral(content []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0

	i := start
	for ; i < len(content); i++ {
		c := content[i]
		if c == '\\' && i+1 < len(content) {
			i++
			switch next := content[i]; next {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '(', ')', '\\':
				b.WriteByte(next)
			default:
				if next >= '0' && next <= '7' {
					code := int(next - '0')
					for n := 0; n < 2 && i+1 < len(content) && content[i+1] >= '0' && content[i+1] <= '7'; n++ {
						i++
						code = code*8 + int(content[i]-'0')
					}
					b.WriteByte(byte(code))
				} else {
					b.WriteByte(next)
				}
			}
			continue
		}

		switch c {
		case '(':
			depth++
			if depth > 1 {
				b.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), i
}

// ExtractHTMLText parses an HTML document and returns its visible text.
// Script, style, and noscript subtrees are dropped.
func ExtractHTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	var parts []string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return strings.Join(parts, " "), nil
}
