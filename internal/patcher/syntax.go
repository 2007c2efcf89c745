package patcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageForFile maps a file extension to its tree-sitter grammar. A nil
// return means the syntax gate is skipped for that file type.
func languageForFile(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".js", ".jsx", ".mjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	case ".py":
		return python.GetLanguage()
	default:
		return nil
	}
}

// checkSyntax parses the patched content and rejects it when the parse
// tree contains errors. Files without a known grammar pass unchecked.
func checkSyntax(ctx context.Context, path string, content []byte) error {
	lang := languageForFile(path)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("syntax parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if errNode := findFirstError(root); errNode != nil {
			return fmt.Errorf("patched file has a syntax error at line %d", errNode.StartPoint().Row+1)
		}
		return fmt.Errorf("patched file has a syntax error")
	}
	return nil
}

func findFirstError(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := findFirstError(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
