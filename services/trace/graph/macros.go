// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"log/slog"
	"strings"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// buildMacroRules records an exported macro_rules! definition with one
// MacroRuleNode per arm. Unexported definitions are skipped.
func (s *buildState) buildMacroRules(m *ast.MacroRules) (MacroNode, bool) {
	if !hasAttribute(m.Attributes, "macro_export") {
		s.result.Stats.SkippedMacros++
		s.logger.Debug("skipping unexported macro_rules", slog.String("name", m.Name))
		return MacroNode{}, false
	}

	node := MacroNode{
		ID:         s.alloc.NextNodeID(),
		Name:       m.Name,
		Visibility: Public,
		Kind:       MacroDeclarative,
		Body:       m.Body,
		Attributes: convertAttributes(m.Attributes),
		Docs:       joinDocs(m.Docs),
	}
	arms, complete := SplitMacroRules(m.Body)
	if !complete {
		s.diagnose("macro_rules %s: could not split every rule", m.Name)
	}
	for _, arm := range arms {
		rule := MacroRuleNode{ID: s.alloc.NextNodeID(), Pattern: arm.Pattern, Expansion: arm.Expansion}
		node.Rules = append(node.Rules, rule)
		s.relate(node.ID.GraphID(), rule.ID.GraphID(), RelMacroExpansion)
	}
	return node, true
}

// buildMacroCall records an invocation parented by a module or function
// and links it with macro_invocation. Resolution happens at finalize.
func (s *buildState) buildMacroCall(c *ast.MacroCall, parent NodeID) NodeID {
	inv := MacroInvocationNode{
		ID:     s.alloc.NextNodeID(),
		Name:   ast.LastSegment(c.Path),
		Path:   c.Path,
		Tokens: c.Tokens,
		Parent: parent,
		Line:   c.Location.StartLine,
	}
	s.graph.MacroInvocations = append(s.graph.MacroInvocations, inv)
	s.relate(parent.GraphID(), inv.ID.GraphID(), RelMacroInvocation)
	return inv.ID
}

// resolveMacroUses links invocations to recorded macros by last path
// segment. The first recorded macro of a name wins.
func (s *buildState) resolveMacroUses() {
	byName := make(map[string]NodeID, len(s.graph.Macros))
	for _, m := range s.graph.Macros {
		if _, ok := byName[m.Name]; !ok {
			byName[m.Name] = m.ID
		}
	}
	for i := range s.graph.MacroInvocations {
		inv := &s.graph.MacroInvocations[i]
		target, ok := byName[inv.Name]
		if !ok {
			continue
		}
		inv.Resolved = &target
		s.relate(inv.ID.GraphID(), target.GraphID(), RelMacroUse)
	}
}

// MacroArm is one `pattern => expansion` rule of a macro_rules! body.
type MacroArm struct {
	Pattern   string
	Expansion string
}

// SplitMacroRules splits a macro_rules! body into its arms by scanning
// balanced delimiter groups. It reports false when trailing text could not
// be parsed as an arm; the arms found before that point are returned.
func SplitMacroRules(body string) ([]MacroArm, bool) {
	var arms []MacroArm
	i := 0
	skip := func() {
		for i < len(body) && (isSpace(body[i]) || body[i] == ';') {
			i++
		}
	}
	for {
		skip()
		if i >= len(body) {
			return arms, true
		}
		pattern, next, ok := scanGroup(body, i)
		if !ok {
			return arms, false
		}
		i = next
		for i < len(body) && isSpace(body[i]) {
			i++
		}
		if !strings.HasPrefix(body[i:], "=>") {
			return arms, false
		}
		i += 2
		for i < len(body) && isSpace(body[i]) {
			i++
		}
		expansion, next, ok := scanGroup(body, i)
		if !ok {
			return arms, false
		}
		i = next
		arms = append(arms, MacroArm{
			Pattern:   strings.TrimSpace(pattern),
			Expansion: strings.TrimSpace(expansion),
		})
	}
}

// scanGroup reads the balanced (), [] or {} group starting at i and
// returns its inner text and the index after the closing delimiter.
// String and character literals are skipped.
func scanGroup(s string, i int) (string, int, bool) {
	if i >= len(s) || closerOf(s[i]) == 0 {
		return "", i, false
	}
	start := i + 1
	var stack []byte
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"':
			i = skipString(s, i)
			continue
		case closerOf(c) != 0:
			stack = append(stack, closerOf(c))
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", i, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start:i], i + 1, true
			}
		}
		i++
	}
	return "", i, false
}

func closerOf(c byte) byte {
	switch c {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	}
	return 0
}

// skipString returns the index after the string literal starting at i.
func skipString(s string, i int) int {
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return i + 1
		}
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
