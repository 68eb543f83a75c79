package parser

import (
	"fmt"
	"strings"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000 // bytes
	defaultChunkOverlap = 200  // bytes
)

// Splitter turns document text into ordered chunks.
type Splitter interface {
	Split(text string) ([]models.Chunk, error)
}

// NewSplitter builds the splitter selected by cfg.ChunkStrategy.
func NewSplitter(cfg config.RAGConfig) (Splitter, error) {
	size, overlap := cfg.ChunkSize, cfg.ChunkOverlap
	if size <= 0 {
		size, overlap = defaultChunkSize, defaultChunkOverlap
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	switch cfg.ChunkStrategy {
	case config.ChunkStrategyWindow:
		return &WindowSplitter{ChunkSize: size, ChunkOverlap: overlap}, nil
	case config.ChunkStrategySeparator, "":
		seps := cfg.Separators
		if len(seps) == 0 {
			seps = []string{"\n"}
		}
		return &SeparatorSplitter{
			splitter: textsplitter.NewRecursiveCharacter(
				textsplitter.WithSeparators(seps),
				textsplitter.WithChunkSize(size),
				textsplitter.WithChunkOverlap(overlap),
			),
		}, nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", cfg.ChunkStrategy)
	}
}

// SeparatorSplitter splits on separators and merges the pieces up to the chunk
// size. A single piece longer than the chunk size is kept whole.
type SeparatorSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

func (s *SeparatorSplitter) Split(text string) ([]models.Chunk, error) {
	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	cursor := 0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// overlapping chunks may start before the previous chunk's end
		offset := strings.Index(text[cursor:], part)
		if offset < 0 {
			offset = strings.Index(text, part)
		} else {
			offset += cursor
		}
		if offset >= 0 {
			cursor = offset + 1
		}
		chunks = append(chunks, models.Chunk{
			ChunkID: len(chunks) + 1,
			Content: part,
			Offset:  offset,
		})
	}
	return chunks, nil
}

// WindowSplitter cuts fixed-size byte windows that overlap by ChunkOverlap,
// pulling each cut back to a space, newline or period when one is near.
type WindowSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func (w *WindowSplitter) Split(text string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for i, win := range chunkContent(text, w.ChunkSize, w.ChunkOverlap) {
		chunks = append(chunks, models.Chunk{
			ChunkID: i + 1,
			Content: text[win.start:win.end],
			Offset:  win.start,
		})
	}
	return chunks, nil
}

type window struct {
	start, end int
}

// chunkContent returns windows that together cover every byte of content.
// Each window is at most maxChars long and starts at most overlapChars before
// the previous one ended.
func chunkContent(content string, maxChars, overlapChars int) []window {
	if maxChars <= 0 || len(content) == 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	contentLen := len(content)
	if contentLen <= maxChars {
		return []window{{0, contentLen}}
	}

	var windows []window
	start := 0
	for {
		end := min(start+maxChars, contentLen)

		if end < contentLen {
			// look for a clean break in the last 10% of the window, but keep
			// the window longer than the overlap so start always advances
			lookBack := min(maxChars/10, end-start-overlapChars-1)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		end = alignRune(content, end)
		if end <= start {
			end = alignRuneForward(content, start+1)
		}

		windows = append(windows, window{start, end})
		if end >= contentLen {
			break
		}

		next := alignRuneForward(content, end-overlapChars)
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// alignRune moves i back to the start of the UTF-8 sequence containing it.
func alignRune(s string, i int) int {
	for i > 0 && i < len(s) && s[i]&0xC0 == 0x80 {
		i--
	}
	return i
}

// alignRuneForward moves i forward to the next UTF-8 sequence start.
func alignRuneForward(s string, i int) int {
	for i > 0 && i < len(s) && s[i]&0xC0 == 0x80 {
		i++
	}
	return i
}
