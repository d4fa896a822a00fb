package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var allowed = map[string]map[string]bool{
	"cli": {
		"convert":         true,
		"credentials":     true,
		"ingest":          true,
		"metrics":         true,
		"model":           true,
		"nativefetch":     true,
		"platform/config": true,
		"platform/logger": true,
		"playlist":        true,
		"retry":           true,
		"runstore":        true,
		"store":           true,
		"ytdlp":           true,
	},
	"ingest": {
		"convert":     true,
		"model":       true,
		"nativefetch": true,
		"playlist":    true,
		"retry":       true,
		"runstore":    true,
		"store":       true,
		"ytdlp":       true,
	},
	"playlist": {
		"model":    true,
		"retry":    true,
		"runstore": true,
		"ytdlp":    true,
	},
	"store": {
		"model":    true,
		"retry":    true,
		"runstore": true,
	},
	"convert": {
		"platform/procgroup": true,
		"retry":              true,
	},
	"credentials":        {},
	"metrics":            {},
	"model":              {},
	"nativefetch":        {},
	"platform/config":    {},
	"platform/logger":    {},
	"platform/procgroup": {},
	"retry":              {},
	"runstore":           {},
	"ytdlp": {
		"platform/procgroup": true,
	},
}

func main() {
	violations := []string{}

	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		srcPkg := sourcePackage(path)
		if srcPkg == "" {
			return nil
		}
		allowMap, ok := allowed[srcPkg]
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", path, srcPkg))
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}

		for _, imp := range file.Imports {
			impPath := strings.Trim(imp.Path.Value, "\"")
			tgtPkg, ok := targetPackage(impPath)
			if !ok {
				continue
			}
			if tgtPkg == srcPkg {
				continue
			}
			if !allowMap[tgtPkg] {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", path, srcPkg, tgtPkg))
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}

	fmt.Println("architecture boundary check: OK")
}

func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 3 || parts[0] != "internal" {
		return ""
	}
	return packageKey(parts[1:])
}

// packageKey keeps one extra path element for packages grouped under
// internal/platform.
func packageKey(parts []string) string {
	if parts[0] == "platform" && len(parts) > 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func targetPackage(importPath string) (string, bool) {
	const prefix = "yt-audio-ingest/internal/"
	if !strings.HasPrefix(importPath, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(importPath, prefix)
	if rest == "" {
		return "", false
	}
	// Import paths have no file element; pad so packageKey sees a directory.
	parts := append(strings.Split(rest, "/"), "")
	return packageKey(parts), true
}
