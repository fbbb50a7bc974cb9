// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jsonextract recovers a single top-level JSON object from chatty
// LLM text.
//
// Agents routinely wrap their JSON in explanations, markdown fences, or
// both. The extractor strips a leading fence if present, then walks the text
// tracking brace depth with in-string and escape awareness, and parses the
// first complete top-level object it finds.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/custodire/aav3/services/deliberation/errs"
)

// snippetLimit bounds the raw text carried on extraction failures.
const snippetLimit = 400

// Extract parses the first complete top-level JSON object in text.
//
// Inputs:
//
//	text - Raw LLM output: fenced, prose-wrapped, or clean JSON.
//
// Outputs:
//
//	map[string]any - The decoded object.
//	error - Wraps errs.ErrMalformedOutput when no object is found or the
//	candidate does not parse; the message carries a truncated snippet.
func Extract(text string) (map[string]any, error) {
	raw, err := ExtractRaw(text)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: candidate does not parse (%v): %s",
			errs.ErrMalformedOutput, err, snippet(raw))
	}
	return out, nil
}

// ExtractRaw returns the substring of text holding the first complete
// top-level JSON object, without decoding it. Callers that unmarshal into
// typed structs use this to avoid a double decode.
func ExtractRaw(text string) (string, error) {
	body := stripFence(text)

	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range body {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			// Quotes outside an object are prose; only track once inside.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return body[start : i+utf8.RuneLen(r)], nil
				}
			}
		}
	}

	return "", fmt.Errorf("%w: no JSON object found: %s", errs.ErrMalformedOutput, snippet(body))
}

// stripFence removes a leading triple-backtick fence (with or without a
// language tag) and its closing fence, when the first non-whitespace token
// is a fence. Text without a leading fence is returned unchanged.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	rest := trimmed[3:]
	// Drop the language tag line, if any.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return text
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > snippetLimit {
		return s[:snippetLimit] + "..."
	}
	return s
}
