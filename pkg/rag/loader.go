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

// Package rag loads raw files into documents and splits them into chunks
// sized for embedding. Supported formats: pdf, txt, md, docx.
package rag

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ErrUnsupportedType is returned for file types the loader cannot handle.
var ErrUnsupportedType = errors.New("unsupported file type")

var supportedTypes = map[string]string{
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// FileTypeOf derives the supported file type from a filename extension.
func FileTypeOf(filename string) (string, error) {
	ext := ""
	if i := strings.LastIndex(filename, "."); i >= 0 {
		ext = strings.ToLower(filename[i+1:])
	}
	if _, ok := supportedTypes[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return ext, nil
}

// IsSupported reports whether the filename has a loadable extension.
func IsSupported(filename string) bool {
	_, err := FileTypeOf(filename)
	return err == nil
}

// ContentTypeOf returns the MIME type for a supported file type, or
// application/octet-stream for anything else.
func ContentTypeOf(fileType string) string {
	if ct, ok := supportedTypes[strings.ToLower(fileType)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// LoadBytes parses raw file content into documents. PDFs produce one
// document per non-empty page; text and docx produce a single document.
// Caller metadata is merged into every document and wins on conflict.
func LoadBytes(content []byte, fileType string, metadata map[string]any) ([]Document, error) {
	switch strings.ToLower(fileType) {
	case "pdf":
		return loadPDF(content, metadata)
	case "txt", "md":
		return loadText(content, metadata)
	case "docx":
		return loadDocx(content, metadata)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
}

func loadPDF(content []byte, metadata map[string]any) ([]Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	totalPages := reader.NumPage()
	var documents []Document

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract pdf page %d: %w", pageNum, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		doc := Document{
			Content: text,
			Metadata: map[string]any{
				"source":      "pdf",
				"page":        pageNum,
				"total_pages": totalPages,
			},
		}
		documents = append(documents, doc.WithMetadata(metadata))
	}

	return documents, nil
}

func loadText(content []byte, metadata map[string]any) ([]Document, error) {
	text, err := decodeText(content)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Content:  text,
		Metadata: map[string]any{"source": "text"},
	}
	return []Document{doc.WithMetadata(metadata)}, nil
}

// decodeText tries utf-8 first, then the GB family common in Chinese
// corpora, then latin-1 as the catch-all. GB18030 stands in for gb2312
// since it is a strict superset and x/text has no standalone gb2312
// decoder.
func decodeText(content []byte) (string, error) {
	if utf8.Valid(content) {
		return string(content), nil
	}
	for _, enc := range []encoding.Encoding{
		simplifiedchinese.GBK,
		simplifiedchinese.GB18030,
		charmap.ISO8859_1,
	} {
		if text, ok := decodeWith(enc, content); ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("unable to decode text file with supported encodings")
}

func decodeWith(enc encoding.Encoding, content []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return "", false
	}
	// x/text decoders substitute U+FFFD instead of failing; treat any
	// replacement rune as a decode miss so the next encoding gets a try.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func loadDocx(content []byte, metadata map[string]any) ([]Document, error) {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}
	defer reader.Close()

	text := docxPlainText(reader.Editable().GetContent())
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc := Document{
		Content:  text,
		Metadata: map[string]any{"source": "docx"},
	}
	return []Document{doc.WithMetadata(metadata)}, nil
}

var (
	docxBreakRe = regexp.MustCompile(`</w:p>|<w:br[^>]*/>`)
	docxTabRe   = regexp.MustCompile(`<w:tab[^>]*/>`)
	docxTagRe   = regexp.MustCompile(`<[^>]+>`)
)

// docxPlainText strips the WordprocessingML markup that GetContent
// returns, keeping paragraph and tab structure.
func docxPlainText(xmlContent string) string {
	text := docxBreakRe.ReplaceAllString(xmlContent, "\n")
	text = docxTabRe.ReplaceAllString(text, "\t")
	text = docxTagRe.ReplaceAllString(text, "")
	return html.UnescapeString(text)
}
