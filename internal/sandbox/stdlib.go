package sandbox

import (
	"path"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultStdlib is the package allowlist used when Config.Stdlib is nil.
var DefaultStdlib = []string{"errors", "fmt", "math", "sort", "strconv", "strings", "time"}

// Packages that give scripts a way out of the sandbox. Never exported, even
// with "*" or when listed explicitly. A deniedTree entry also covers every
// package below it.
var (
	deniedTree = []string{"debug", "go", "net", "os", "plugin", "runtime", "syscall"}
	denied     = map[string]bool{
		"archive/zip":    true,
		"crypto/tls":     true,
		"crypto/x509":    true,
		"embed":          true,
		"expvar":         true,
		"html/template":  true,
		"io/fs":          true,
		"io/ioutil":      true,
		"log/syslog":     true,
		"mime/multipart": true,
		"path/filepath":  true,
		"reflect":        true,
		"text/template":  true,
		"unsafe":         true,
	}
)

func isDenied(importPath string) bool {
	if denied[importPath] {
		return true
	}
	for _, root := range deniedTree {
		if importPath == root || strings.HasPrefix(importPath, root+"/") {
			return true
		}
	}
	return false
}

// stdlibSymbols returns the subset of the yaegi standard library symbol
// table allowed by list. Keys in the table look like "net/http/http"
// (import path + "/" + package name).
func stdlibSymbols(list []string) interp.Exports {
	if list == nil {
		list = DefaultStdlib
	}
	all := false
	allowed := make(map[string]bool, len(list))
	for _, p := range list {
		p = strings.TrimSpace(p)
		if p == "*" {
			all = true
			continue
		}
		if p != "" {
			allowed[p] = true
		}
	}

	out := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		importPath := path.Dir(key)
		if isDenied(importPath) {
			continue
		}
		if all || allowed[importPath] {
			out[key] = syms
		}
	}
	return out
}
