//go:build ignore

// gen-docs writes the manifest reference to docs/manifest.md. It parses
// apis/v1/*.go and walks the struct graph from Archive, so a type only shows
// up once something in the manifest refers to it.
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"golang.org/x/tools/go/packages"
)

const rootType = "Archive"

type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

type Field struct {
	Name        string
	YAMLKey     string
	Type        string
	Required    bool
	Template    bool
	Description string
	Constraints []string
	Ref         string
}

type typeInfo struct {
	name       string
	doc        string
	structType *ast.StructType
}

func main() {
	root, err := findProjectRoot()
	if err != nil {
		fail("finding project root: %v", err)
	}

	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedSyntax | packages.NeedFiles | packages.NeedName,
		Dir:  root,
	}, "./apis/v1")
	if err != nil {
		fail("loading package: %v", err)
	}
	if len(pkgs) == 0 {
		fail("no packages found")
	}

	typeSpecs := make(map[string]*typeInfo)
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			fail("package error: %v", e)
		}
		for _, file := range pkg.Syntax {
			collectTypeSpecs(file, typeSpecs)
		}
	}

	schemas := walk(rootType, typeSpecs)

	outputPath := filepath.Join(root, "docs", "manifest.md")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		fail("creating output directory: %v", err)
	}
	if err := os.WriteFile(outputPath, []byte(render(schemas)), 0o644); err != nil {
		fail("writing %s: %v", outputPath, err)
	}

	fmt.Printf("Generated %s (%d types)\n", outputPath, len(schemas))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error "+format+"\n", args...)
	os.Exit(1)
}

// walk returns the schemas reachable from name in breadth-first order.
func walk(name string, typeSpecs map[string]*typeInfo) []Schema {
	var (
		schemas []Schema
		queue   = []string{name}
		seen    = map[string]bool{name: true}
	)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		info, ok := typeSpecs[current]
		if !ok {
			fmt.Fprintf(os.Stderr, "Warning: struct %s not found\n", current)
			continue
		}

		schema := extractSchema(info, typeSpecs)
		schemas = append(schemas, schema)

		for _, f := range schema.Fields {
			if f.Ref != "" && !seen[f.Ref] {
				seen[f.Ref] = true
				queue = append(queue, f.Ref)
			}
		}
	}

	return schemas
}

func collectTypeSpecs(file *ast.File, typeSpecs map[string]*typeInfo) {
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok {
				continue
			}

			var doc string
			if genDecl.Doc != nil && len(genDecl.Specs) == 1 {
				doc = cleanDocComment(genDecl.Doc.Text())
			} else if typeSpec.Doc != nil {
				doc = cleanDocComment(typeSpec.Doc.Text())
			}

			typeSpecs[typeSpec.Name.Name] = &typeInfo{
				name:       typeSpec.Name.Name,
				doc:        doc,
				structType: structType,
			}
		}
	}
}

func extractSchema(info *typeInfo, typeSpecs map[string]*typeInfo) Schema {
	schema := Schema{Name: info.name, Description: info.doc}

	for _, field := range info.structType.Fields.List {
		if len(field.Names) == 0 || !ast.IsExported(field.Names[0].Name) {
			continue
		}

		f := Field{Name: field.Names[0].Name}
		if field.Tag != nil {
			tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
			f.YAMLKey = parseYAMLKey(tag)
			f.Required, f.Constraints = parseValidateTag(tag)
			_, f.Template = tag.Lookup("template")
		}

		f.Type = typeName(field.Type)
		if base := baseIdent(field.Type); base != "" {
			if _, ok := typeSpecs[base]; ok {
				f.Ref = base
			}
		}

		if field.Doc != nil {
			f.Description = cleanDocComment(field.Doc.Text())
		} else if field.Comment != nil {
			f.Description = cleanDocComment(field.Comment.Text())
		}

		schema.Fields = append(schema.Fields, f)
	}

	return schema
}

func parseYAMLKey(tag reflect.StructTag) string {
	key, _, _ := strings.Cut(tag.Get("yaml"), ",")
	return key
}

// parseValidateTag splits a validator tag into the required flag and the
// remaining constraints worth documenting.
func parseValidateTag(tag reflect.StructTag) (required bool, constraints []string) {
	for _, part := range strings.Split(tag.Get("validate"), ",") {
		switch {
		case part == "required":
			required = true
		case strings.HasPrefix(part, "oneof="):
			constraints = append(constraints, "one of: "+strings.ReplaceAll(strings.TrimPrefix(part, "oneof="), " ", ", "))
		case strings.HasPrefix(part, "min="), strings.HasPrefix(part, "max="), strings.HasPrefix(part, "eq="):
			constraints = append(constraints, strings.Replace(part, "=", " ", 1))
		}
	}
	return required, constraints
}

func typeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return typeName(t.X)
	case *ast.ArrayType:
		return "[]" + typeName(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", typeName(t.Key), typeName(t.Value))
	case *ast.SelectorExpr:
		return t.Sel.Name
	default:
		return "unknown"
	}
}

func baseIdent(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return baseIdent(t.X)
	case *ast.ArrayType:
		return baseIdent(t.Elt)
	default:
		return ""
	}
}

func render(schemas []Schema) string {
	var sb strings.Builder
	sb.WriteString("# Manifest reference\n\n")
	sb.WriteString("Generated by `go run scripts/gen-docs.go`. Fields marked with † accept `${VAR}` templates.\n")

	for _, s := range schemas {
		fmt.Fprintf(&sb, "\n## %s\n\n", s.Name)
		if s.Description != "" {
			sb.WriteString(s.Description + "\n\n")
		}
		if len(s.Fields) == 0 {
			sb.WriteString("No options.\n")
			continue
		}

		sb.WriteString("| Key | Type | Required | Description |\n")
		sb.WriteString("|-----|------|----------|-------------|\n")
		for _, f := range s.Fields {
			key := "`" + f.YAMLKey + "`"
			if f.Template {
				key += " †"
			}
			typ := f.Type
			if f.Ref != "" {
				typ = fmt.Sprintf("[%s](#%s)", f.Type, strings.ToLower(f.Ref))
			}
			desc := strings.ReplaceAll(f.Description, "\n", " ")
			if len(f.Constraints) > 0 {
				desc = strings.TrimSpace(desc + " (" + strings.Join(f.Constraints, "; ") + ")")
			}
			required := ""
			if f.Required {
				required = "yes"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", key, typ, required, desc)
		}
	}

	return sb.String()
}

func cleanDocComment(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
