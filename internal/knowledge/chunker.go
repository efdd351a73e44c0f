// File: internal/knowledge/chunker.go
package knowledge

import (
	"bufio"
	"strings"
)

// ChunkOptions controls how reference text is split for embedding.
type ChunkOptions struct {
	// Size is the target chunk length in characters.
	Size int
	// Overlap is how many trailing characters of one chunk seed the next.
	Overlap int
}

// DefaultChunkOptions returns the splitter settings used across the digest.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: 500, Overlap: 50}
}

// ChunkText splits text into chunks of roughly opts.Size characters,
// accumulating whole paragraphs where possible and carrying opts.Overlap
// characters across chunk boundaries so sentences cut at an edge stay
// findable.
func ChunkText(text string, opts ChunkOptions) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if opts.Size <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 10
	}

	var chunks []string
	var current strings.Builder
	carryLen := 0

	flush := func() {
		// Carry-only content would just replay the previous chunk's tail.
		if current.Len() <= carryLen {
			current.Reset()
			carryLen = 0
			return
		}
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}

		carried := current.String()
		current.Reset()
		if opts.Overlap > 0 && len(carried) > opts.Overlap {
			current.WriteString(carried[len(carried)-opts.Overlap:])
		}
		carryLen = current.Len()
	}

	for _, para := range splitParagraphs(text) {
		// Paragraphs larger than a whole chunk get split hard, filling
		// whatever room the carried overlap leaves.
		for len(para) > opts.Size {
			room := opts.Size - current.Len()
			if room <= 0 {
				flush()
				room = opts.Size - current.Len()
			}
			current.WriteString(para[:room])
			flush()
			para = para[room:]
		}
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > opts.Size {
			flush()
		}
		current.WriteString(para)
		current.WriteString("\n")
	}
	flush()

	return chunks
}

// splitParagraphs merges consecutive non-blank lines into paragraphs.
func splitParagraphs(text string) []string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(strings.TrimSpace(line))
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs
}
