// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/lua"
)

// Require is one require call found in a module.
type Require struct {
	// Spec is the literal argument, empty for dynamic requires.
	Spec string `msgpack:"spec"`
	// Line is 1-based.
	Line int `msgpack:"line"`
	// Lazy is set for requires inside a function body.
	Lazy bool `msgpack:"lazy"`
	// Dynamic is set when the argument is not a single string literal.
	Dynamic bool `msgpack:"dynamic"`

	// Target is the resolved module ID, empty when unresolved or builtin.
	Target string `msgpack:"-"`
	// Builtin is set for runtime-provided modules such as @lune/fs.
	Builtin bool `msgpack:"-"`
}

// ExtractResult is the outcome of Extract.
type ExtractResult struct {
	Requires []Require
	// Lexical is set when the source did not parse as Lua and the lexical
	// scanner produced the result. All its requires are eager.
	Lexical bool
}

// Extract finds the require calls in src. It never fails on syntax errors;
// an error is returned only on cancellation or a parser failure.
func Extract(ctx context.Context, src []byte) (ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return ExtractResult{}, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lua.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return ExtractResult{Requires: scanRequires(src), Lexical: true}, nil
	}

	var reqs []Require
	walkCalls(root, src, false, &reqs)
	return ExtractResult{Requires: reqs}, nil
}

func walkCalls(n *sitter.Node, src []byte, lazy bool, out *[]Require) {
	switch n.Type() {
	case "function_statement", "local_function_statement", "function",
		"function_declaration", "function_definition":
		lazy = true
	case "function_call":
		if req, ok := requireCall(n, src); ok {
			req.Lazy = lazy
			*out = append(*out, req)
		}
	}
	for i := range int(n.NamedChildCount()) {
		walkCalls(n.NamedChild(i), src, lazy, out)
	}
}

// requireCall matches `require(<args>)`, `require "x"` and `require [[x]]`.
// The grammar puts the callee under "prefix" and the arguments under "args":
// function_arguments for the parenthesized form, string_argument otherwise.
func requireCall(n *sitter.Node, src []byte) (Require, bool) {
	prefix := n.ChildByFieldName("prefix")
	if prefix == nil || prefix.Type() != "identifier" || prefix.Content(src) != "require" {
		return Require{}, false
	}
	req := Require{Line: int(n.StartPoint().Row) + 1, Dynamic: true}

	args := n.ChildByFieldName("args")
	if args == nil {
		return req, true
	}
	var lit *sitter.Node
	switch args.Type() {
	case "string_argument", "string":
		lit = args
	case "function_arguments":
		if args.NamedChildCount() == 1 && args.NamedChild(0).Type() == "string" {
			lit = args.NamedChild(0)
		}
	}
	if lit == nil {
		return req, true
	}
	if s, ok := unquote(lit.Content(src)); ok {
		req.Spec, req.Dynamic = s, false
	}
	return req, true
}

// unquote returns the value of a Lua string literal: '..', "..", [[..]] or
// [==[..]==]. Escapes other than \\, \", \', \n and \t make it dynamic.
func unquote(lit string) (string, bool) {
	if len(lit) < 2 {
		return "", false
	}
	switch q := lit[0]; q {
	case '"', '\'':
		if lit[len(lit)-1] != q {
			return "", false
		}
		return unescape(lit[1 : len(lit)-1])
	case '[':
		level := strings.IndexByte(lit[1:], '[')
		if level < 0 || strings.Trim(lit[1:1+level], "=") != "" {
			return "", false
		}
		closing := "]" + strings.Repeat("=", level) + "]"
		body := lit[level+2:]
		if !strings.HasSuffix(body, closing) {
			return "", false
		}
		body = strings.TrimSuffix(body, closing)
		// A newline directly after the opening bracket is skipped.
		body = strings.TrimPrefix(body, "\n")
		return body, true
	}
	return "", false
}

func unescape(s string) (string, bool) {
	if !strings.Contains(s, `\`) {
		return s, true
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", false
		}
		switch s[i] {
		case '\\', '"', '\'':
			b.WriteByte(s[i])
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		default:
			return "", false
		}
	}
	return b.String(), true
}
