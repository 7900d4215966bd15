package testutil

import (
	"fmt"
	"strings"
)

// Manifest describes a project.hcl for tests. Commands are HCL expressions
// written verbatim; an empty command omits the block.
type Manifest struct {
	Requires []string
	Build    string
	Test     string
	Match    string
}

// String renders the manifest as HCL.
func (m Manifest) String() string {
	var b strings.Builder
	if len(m.Requires) > 0 {
		quoted := make([]string, len(m.Requires))
		for i, r := range m.Requires {
			quoted[i] = fmt.Sprintf("%q", r)
		}
		fmt.Fprintf(&b, "requires = [%s]\n", strings.Join(quoted, ", "))
	}
	if m.Build != "" {
		fmt.Fprintf(&b, "build {\n  command = %s\n}\n", m.Build)
	}
	if m.Test != "" {
		fmt.Fprintf(&b, "test {\n  command = %s\n", m.Test)
		if m.Match != "" {
			fmt.Fprintf(&b, "  match = %q\n", m.Match)
		}
		b.WriteString("}\n")
	}
	return b.String()
}
