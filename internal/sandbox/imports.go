package sandbox

import (
	"strings"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// Per-kind import whitelists. Interpreted snippets only see stdlib symbols,
// so the lists name stdlib packages. Network and filesystem packages appear
// only where the kind and limits allow them.
var (
	minimalImports = []string{
		"strings", "strconv", "math", "sort", "unicode", "errors", "fmt",
	}

	restrictedImports = concat(minimalImports,
		"encoding/json", "encoding/base64", "encoding/hex",
		"regexp", "bytes", "time",
	)

	workerImports = concat(restrictedImports,
		"hash/fnv", "crypto/sha256", "crypto/md5",
		"path", "container/heap", "container/list",
	)

	directImports = concat(workerImports,
		"math/rand", "text/template", "path/filepath",
	)

	networkImports = []string{"net/http", "net/url"}

	filesystemImports = []string{"os", "io", "bufio"}
)

func concat(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// importsFor builds the allowed package set for one environment.
func importsFor(kind Kind, limits Limits) map[string]bool {
	var base []string
	switch kind {
	case KindIsolated:
		base = minimalImports
	case KindSandboxed:
		base = restrictedImports
	case KindWorker:
		base = workerImports
	default:
		base = directImports
	}

	allowed := make(map[string]bool, len(base)+4)
	for _, pkg := range base {
		allowed[pkg] = true
	}
	// Isolated environments get no timers regardless of limits.
	if kind == KindIsolated {
		delete(allowed, "time")
	}
	if limits.AllowNetwork && kind != KindIsolated {
		for _, pkg := range networkImports {
			allowed[pkg] = true
		}
	}
	if limits.AllowFileSystem && (kind == KindDirect || kind == KindWorker) {
		for _, pkg := range filesystemImports {
			allowed[pkg] = true
		}
	}
	return allowed
}

// validateImports scans the snippet's import statements against the allowed
// set and the policy's module list. Parsing is line-based; the interpreter
// rejects anything structurally malformed later.
func validateImports(code string, allowed map[string]bool, policy SecurityPolicy) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		}

		var pkg string
		if inBlock && trimmed != "" {
			pkg = importPath(trimmed)
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg = importPath(strings.TrimPrefix(trimmed, "import "))
		}
		if pkg == "" {
			continue
		}
		if !allowed[pkg] || !policy.moduleAllowed(pkg) {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return errcode.Newf(errcode.PolicyViolation,
			"forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	return nil
}

// importPath extracts the quoted path from one import spec, dropping any
// alias.
func importPath(spec string) string {
	start := strings.IndexByte(spec, '"')
	if start < 0 {
		return ""
	}
	rest := spec[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
