// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/vellum-notes/vellum/lib/wire"
)

// Snippet returns a note's content, scoped to one section when a
// heading is given. The section spans from the heading line to the
// next heading of the same or a higher level. Heading matching is
// case-insensitive on the trimmed heading text.
func (v *Vault) Snippet(relative, heading string) (string, error) {
	content, err := v.Read(relative)
	if err != nil {
		return "", err
	}
	if heading == "" {
		return string(content), nil
	}

	section, found := extractSection(content, heading)
	if !found {
		return "", wire.NewProtocolError(wire.CodeValidation, "",
			"no heading %q in %q", heading, relative)
	}
	return section, nil
}

// markdownHeading locates a parsed heading and its byte extent.
type markdownHeading struct {
	level     int
	text      string
	lineStart int
}

// extractSection slices the section under the first heading whose
// text matches wanted.
func extractSection(source []byte, wanted string) (string, bool) {
	headings := parseHeadings(source)
	wanted = strings.ToLower(strings.TrimSpace(wanted))

	for i, heading := range headings {
		if strings.ToLower(strings.TrimSpace(heading.text)) != wanted {
			continue
		}
		end := len(source)
		for _, later := range headings[i+1:] {
			if later.level <= heading.level {
				end = later.lineStart
				break
			}
		}
		return strings.TrimRight(string(source[heading.lineStart:end]), "\n") + "\n", true
	}
	return "", false
}

// parseHeadings walks the goldmark AST and returns every heading with
// its level, text, and the byte offset of its line start.
func parseHeadings(source []byte) []markdownHeading {
	document := goldmark.New().Parser().Parse(text.NewReader(source))

	var headings []markdownHeading
	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		headings = append(headings, markdownHeading{
			level:     heading.Level,
			text:      nodeText(heading, source),
			lineStart: lineStart(source, lines.At(0).Start),
		})
		return ast.WalkContinue, nil
	})
	return headings
}

// nodeText concatenates the text content of a node's subtree.
func nodeText(node ast.Node, source []byte) string {
	var builder strings.Builder
	_ = ast.Walk(node, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := child.(type) {
		case *ast.Text:
			builder.Write(typed.Segment.Value(source))
		case *ast.String:
			builder.Write(typed.Value)
		}
		return ast.WalkContinue, nil
	})
	return builder.String()
}

// lineStart walks back from a byte offset to the start of its line.
// Heading segments begin after the ATX marker, so the marker and its
// indentation are recovered here.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}
