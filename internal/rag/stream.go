package rag

import (
	"context"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter drops <think> blocks from a token stream. Tags may be split
// across tokens, so a possible partial tag is held back until the next write.
type thinkFilter struct {
	out     StreamFunc
	pending string
	inThink bool
}

func (f *thinkFilter) Write(ctx context.Context, chunk []byte) error {
	f.pending += string(chunk)
	for {
		if f.inThink {
			i := strings.Index(f.pending, thinkClose)
			if i < 0 {
				f.pending = tail(f.pending, len(thinkClose)-1)
				return nil
			}
			f.pending = f.pending[i+len(thinkClose):]
			f.inThink = false
			continue
		}

		i := strings.Index(f.pending, thinkOpen)
		if i >= 0 {
			if err := f.emit(ctx, f.pending[:i]); err != nil {
				return err
			}
			f.pending = f.pending[i+len(thinkOpen):]
			f.inThink = true
			continue
		}

		keep := partialPrefix(f.pending, thinkOpen)
		if err := f.emit(ctx, f.pending[:len(f.pending)-keep]); err != nil {
			return err
		}
		f.pending = f.pending[len(f.pending)-keep:]
		return nil
	}
}

// Flush emits whatever is held back outside a think block.
func (f *thinkFilter) Flush(ctx context.Context) error {
	if f.inThink {
		f.pending = ""
		return nil
	}
	s := f.pending
	f.pending = ""
	return f.emit(ctx, s)
}

func (f *thinkFilter) emit(ctx context.Context, s string) error {
	if s == "" {
		return nil
	}
	return f.out(ctx, []byte(s))
}

// partialPrefix is the length of the longest suffix of s that is a proper prefix of tag.
func partialPrefix(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
