//go:build ignore

// gen_state_diagram renders the session state machine into
// docs/generated/session-state-machine.md, or to the path given with -o.
// Run via: go generate ./cmd/swissparam/cli/session/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

func main() {
	out := flag.String("o", "", "output file (default docs/generated/session-state-machine.md in the module root)")
	flag.Parse()

	path := *out
	if path == "" {
		_, self, _, ok := runtime.Caller(0)
		if !ok {
			log.Fatal("cannot locate generator source")
		}
		root, err := moduleRoot(filepath.Dir(self))
		if err != nil {
			log.Fatal(err)
		}
		path = filepath.Join(root, "docs", "generated", "session-state-machine.md")
	}

	var terminal []string
	for _, st := range session.AllStates {
		if st.IsTerminal() {
			terminal = append(terminal, "`"+string(st)+"`")
		}
	}

	var doc strings.Builder
	doc.WriteString("# Session state machine\n\n")
	doc.WriteString("<!-- Code generated by gen_state_diagram.go. DO NOT EDIT. -->\n\n")
	fmt.Fprintf(&doc, "Terminal states: %s.\n\n", strings.Join(terminal, ", "))
	doc.WriteString("```mermaid\n")
	doc.WriteString(session.MermaidDiagram())
	doc.WriteString("```\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Fatalf("create output directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(doc.String()), 0o644); err != nil { //nolint:gosec // generated docs
		log.Fatalf("write diagram: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func moduleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", dir)
		}
		dir = parent
	}
}
