// Copyright 2026 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Separator ladder tuned for Chinese prose: paragraphs, lines, sentence
// enders, clause marks, spaces, then individual characters.
var chineseSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

// Markdown ladder: headings and code fences before paragraph structure.
// Entries are regular expressions.
var markdownSeparators = []string{
	`\n#{1,6} `,
	"```\n",
	`\n\*\*\*+\n`,
	`\n---+\n`,
	`\n___+\n`,
	"\n\n",
	"\n",
	" ",
	"",
}

// LengthFunc measures a piece of text for chunk sizing.
type LengthFunc func(string) int

// RuneLength counts Unicode code points. The default: byte counts would
// treat one CJK character as three.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
	tokenEncErr  error
)

// TokenLength returns a LengthFunc counting cl100k_base tokens.
func TokenLength() (LengthFunc, error) {
	tokenEncOnce.Do(func() {
		tokenEnc, tokenEncErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tokenEncErr != nil {
		return nil, fmt.Errorf("failed to get encoding: %w", tokenEncErr)
	}
	return func(s string) int {
		return len(tokenEnc.Encode(s, nil, nil))
	}, nil
}

// Splitter recursively splits text on a separator ladder, keeping each
// separator attached to the head of the piece that follows it, then merges
// pieces into chunks of at most chunkSize with at most chunkOverlap
// carried between successive chunks.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
	regexes      map[string]*regexp.Regexp
	length       LengthFunc
}

// SplitterOption customizes a Splitter.
type SplitterOption func(*Splitter)

// WithLengthFunc overrides the rune-counting default.
func WithLengthFunc(fn LengthFunc) SplitterOption {
	return func(s *Splitter) {
		s.length = fn
	}
}

// NewSplitter creates a splitter for the given chunk geometry. Markdown
// files get the heading-aware ladder; everything else the Chinese prose
// ladder.
func NewSplitter(chunkSize, chunkOverlap int, fileType string, opts ...SplitterOption) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}

	s := &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   chineseSeparators,
		length:       RuneLength,
	}

	switch strings.ToLower(fileType) {
	case "md", "markdown":
		s.separators = markdownSeparators
		s.regexes = make(map[string]*regexp.Regexp, len(markdownSeparators))
		for _, sep := range markdownSeparators {
			if sep == "" {
				continue
			}
			re, err := regexp.Compile(sep)
			if err != nil {
				return nil, fmt.Errorf("bad separator pattern %q: %w", sep, err)
			}
			s.regexes[sep] = re
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Split chunks documents with the given geometry, propagating each source
// document's metadata to every chunk.
func Split(docs []Document, chunkSize, chunkOverlap int, fileType string) ([]Document, error) {
	splitter, err := NewSplitter(chunkSize, chunkOverlap, fileType)
	if err != nil {
		return nil, err
	}
	return splitter.SplitDocuments(docs), nil
}

// SplitDocuments splits each document's content, cloning metadata per chunk.
func (s *Splitter) SplitDocuments(docs []Document) []Document {
	var out []Document
	for _, doc := range docs {
		for _, piece := range s.SplitText(doc.Content) {
			out = append(out, Document{
				Content:  piece,
				Metadata: cloneMetadata(doc.Metadata),
			})
		}
	}
	return out
}

// SplitText splits a single text into chunks.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRecursive(text, s.separators)
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	// Pick the first separator present in the text; "" always applies.
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep, rest = "", nil
			break
		}
		if s.contains(text, candidate) {
			sep, rest = candidate, separators[i+1:]
			break
		}
	}

	var chunks []string
	var pending []string
	for _, piece := range s.splitOnce(text, sep) {
		if s.length(piece) < s.chunkSize {
			pending = append(pending, piece)
			continue
		}

		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.splitRecursive(piece, rest)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending)...)
	}

	return chunks
}

func (s *Splitter) contains(text, sep string) bool {
	if re, ok := s.regexes[sep]; ok {
		return re.MatchString(text)
	}
	return strings.Contains(text, sep)
}

// splitOnce splits on one separator, attaching the separator to the head
// of the piece that follows it. The empty separator splits into runes.
func (s *Splitter) splitOnce(text, sep string) []string {
	if sep == "" {
		return strings.Split(text, "")
	}

	if re, ok := s.regexes[sep]; ok {
		return splitAtMatches(text, re)
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

// splitAtMatches cuts the text at the start of every match, so each match
// stays glued to the text that follows it.
func splitAtMatches(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var out []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			out = append(out, text[prev:loc[0]])
			prev = loc[0]
		}
	}
	out = append(out, text[prev:])
	return out
}

// merge packs pieces into chunks of at most chunkSize, carrying at most
// chunkOverlap of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, piece := range pieces {
		pieceLen := s.length(piece)

		if total+pieceLen > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.chunkOverlap || (total+pieceLen > s.chunkSize && total > 0) {
				total -= s.length(current[0])
				current = current[1:]
			}
		}

		current = append(current, piece)
		total += pieceLen
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}

	return docs
}
