package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// paritycheck verifies that every operation SPEC_FULL.md names has a
// corresponding Go symbol, driven by a manifest mapping spec operation
// names to go_target strings ("pkg:kind:symbol"). This is the same
// manifest-driven mechanism the teacher used to check Go-vs-C++ AMPS
// symbol parity (tools/paritycheck's original purpose), repurposed
// here to check Go-vs-specification parity instead: there is no C++
// reference implementation for this module, so the "other side" of the
// parity check is the specification text itself, tracked by hand in
// the manifest's spec_operation field.
type manifestEntry struct {
	SpecOperation string `json:"spec_operation"`
	GoTarget      string `json:"go_target"`
}

type manifestFile struct {
	Entries []manifestEntry `json:"entries"`
}

type goTarget struct {
	pkg    string
	kind   string
	symbol string
}

func parseTarget(raw string) (goTarget, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return goTarget{}, fmt.Errorf("invalid go target: %s", raw)
	}
	return goTarget{pkg: parts[0], kind: parts[1], symbol: parts[2]}, nil
}

func packageDir(pkg string) (string, error) {
	switch pkg {
	case "msgq":
		return "msgq", nil
	case "cmd/msgqd":
		return filepath.Join("cmd", "msgqd"), nil
	case "internal/adminapi":
		return filepath.Join("internal", "adminapi"), nil
	default:
		return "", fmt.Errorf("unknown package: %s", pkg)
	}
}

func readPackageSource(pkg string) (string, error) {
	dir, err := packageDir(pkg)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	builder := strings.Builder{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(dir, entry.Name()))
		if readErr != nil {
			return "", readErr
		}
		builder.Write(data)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func symbolExists(source string, target goTarget) bool {
	switch target.kind {
	case "type":
		pattern := fmt.Sprintf(`(?m)^type\s+%s\b`, regexp.QuoteMeta(target.symbol))
		return regexp.MustCompile(pattern).FindStringIndex(source) != nil
	case "func":
		pattern := fmt.Sprintf(`(?m)^func\s+%s\s*\(`, regexp.QuoteMeta(target.symbol))
		return regexp.MustCompile(pattern).FindStringIndex(source) != nil
	case "method":
		parts := strings.Split(target.symbol, ".")
		if len(parts) != 2 {
			return false
		}
		receiver := regexp.QuoteMeta(parts[0])
		method := regexp.QuoteMeta(parts[1])
		pattern := fmt.Sprintf(`(?m)^func\s*\(\s*[^)]*\*?%s\s*\)\s*%s\s*\(`, receiver, method)
		return regexp.MustCompile(pattern).FindStringIndex(source) != nil
	default:
		return false
	}
}

func main() {
	manifestPath := flag.String("manifest", filepath.Join("tools", "paritycheck", "manifest.json"), "path to spec-parity manifest")
	flag.Parse()

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Printf("manifest read failed: %v\n", err)
		os.Exit(1)
	}
	manifest := manifestFile{}
	if err = json.Unmarshal(data, &manifest); err != nil {
		fmt.Printf("manifest parse failed: %v\n", err)
		os.Exit(1)
	}

	sources := map[string]string{}
	pkgSet := map[string]struct{}{}
	for _, entry := range manifest.Entries {
		target, parseErr := parseTarget(entry.GoTarget)
		if parseErr != nil {
			fmt.Println(parseErr)
			os.Exit(1)
		}
		pkgSet[target.pkg] = struct{}{}
	}
	for pkg := range pkgSet {
		source, readErr := readPackageSource(pkg)
		if readErr != nil {
			fmt.Printf("package source read failed for %s: %v\n", pkg, readErr)
			os.Exit(1)
		}
		sources[pkg] = source
	}

	missing := []string{}
	for _, entry := range manifest.Entries {
		target, _ := parseTarget(entry.GoTarget)
		source := sources[target.pkg]
		if !symbolExists(source, target) {
			missing = append(missing, fmt.Sprintf("%s -> %s", entry.SpecOperation, entry.GoTarget))
		}
	}

	fmt.Printf("PARITY_ENTRIES=%d\n", len(manifest.Entries))
	fmt.Printf("MISSING=%d\n", len(missing))
	for _, item := range missing {
		fmt.Printf("MISSING %s\n", item)
	}

	if len(missing) > 0 {
		os.Exit(1)
	}
}
