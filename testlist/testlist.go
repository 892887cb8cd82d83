// Package testlist finds the test functions of a Go package without
// compiling it.
package testlist

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ModulePath returns the module path declared in workingDir/go.mod.
func ModulePath(workingDir string) (string, error) {
	goModPath := filepath.Join(workingDir, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to find go.mod: %w", err)
	}
	modFile, err := modfile.Parse(goModPath, content, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	return modFile.Module.Mod.Path, nil
}

// PackageDir resolves pkgPath to a directory. Paths starting with "./" are
// relative to workingDir, anything else must live in the module declared by
// workingDir/go.mod.
func PackageDir(pkgPath string, workingDir string) (string, error) {
	if pkgPath == "." || strings.HasPrefix(pkgPath, "./") {
		return filepath.Join(workingDir, pkgPath), nil
	}
	module, err := ModulePath(workingDir)
	if err != nil {
		return "", err
	}
	if pkgPath != module && !strings.HasPrefix(pkgPath, module+"/") {
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, module)
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(pkgPath, module), "/")
	return filepath.Join(workingDir, rel), nil
}

// FindTestFunctions returns the top-level TestXxx(*testing.T) functions of
// a package, in file and declaration order. TestMain is skipped.
func FindTestFunctions(pkgPath string, workingDir string) ([]string, error) {
	pkgDir, err := PackageDir(pkgPath, workingDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var found []string
	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(pkgDir, entry.Name()), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		for _, decl := range f.Decls {
			if fn, ok := decl.(*ast.FuncDecl); ok && isTestFunc(fn) {
				found = append(found, fn.Name.Name)
			}
		}
	}
	return found, nil
}

func isTestFunc(fn *ast.FuncDecl) bool {
	name := fn.Name.Name
	if fn.Recv != nil || name == "TestMain" || !strings.HasPrefix(name, "Test") {
		return false
	}
	// TestFoo is a test, Testfoo is not.
	if rest := name[len("Test"):]; rest != "" {
		if r := rest[0]; r >= 'a' && r <= 'z' {
			return false
		}
	}
	params := fn.Type.Params.List
	if len(params) != 1 || len(params[0].Names) > 1 {
		return false
	}
	star, ok := params[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	return ok && sel.Sel.Name == "T"
}
