package goja

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// InlineRequires replaces top-level require("name") statements in
// library source with the source the provider gives for each name.
//
// Libraries are plain top-level code, so we can splice text.  An
// action's own code is a function body, which is why actions use an
// explicit "requires" list instead.
func InlineRequires(ctx context.Context, src string, provider func(context.Context, string) (string, error)) (string, error) {
	if !strings.Contains(src, "require") {
		return src, nil
	}

	p, err := parser.ParseFile(nil, "", src, 0)
	if err != nil {
		return "", err
	}

	var (
		acc  strings.Builder
		from = 0
	)
	for _, s := range p.Body {
		exps, is := s.(*ast.ExpressionStatement)
		if !is {
			continue
		}
		call, is := exps.Expression.(*ast.CallExpression)
		if !is {
			continue
		}
		id, is := call.Callee.(*ast.Identifier)
		if !is || id.Name != "require" {
			continue
		}
		if len(call.ArgumentList) != 1 {
			return "", fmt.Errorf("bad require args: %#v", call.ArgumentList)
		}
		lit, is := call.ArgumentList[0].(*ast.StringLiteral)
		if !is {
			return "", fmt.Errorf("bad require arg: %#v", call.ArgumentList[0])
		}

		lib, err := provider(ctx, lit.Value.String())
		if err != nil {
			return "", err
		}

		// Idx values are 1-based.
		start, end := int(exps.Idx0())-1, int(exps.Idx1())-1
		acc.WriteString(src[from:start])
		acc.WriteString(lib)
		acc.WriteString("\n")
		from = end
		if from < len(src) && src[from] == ';' {
			from++
		}
	}
	acc.WriteString(src[from:])

	return acc.String(), nil
}
