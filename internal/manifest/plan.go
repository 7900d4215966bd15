package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/shlex"
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pdctl/internal/fsutil"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/project"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Planner plans invocations from a manifest set.
type Planner struct {
	Set *Set
	Env planner.Environment
}

var _ planner.Planner = (*Planner)(nil)

// Planner returns a planner over the set bound to env.
func (s *Set) Planner(env planner.Environment) planner.Planner {
	return &Planner{Set: s, Env: env}
}

// Plan implements planner.Planner.
func (p *Planner) Plan(_ context.Context, phase planner.Phase, id project.ID) ([]planner.Invocation, error) {
	m, ok := p.Set.Manifests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissing, id)
	}

	switch phase {
	case planner.Build:
		if m.Build == nil {
			return nil, nil
		}
		return p.planBuild(m)
	case planner.Test:
		if m.Test == nil {
			return nil, nil
		}
		return p.planTest(m)
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
}

func (p *Planner) planBuild(m *Manifest) ([]planner.Invocation, error) {
	evalCtx := p.evalContext(m, nil)
	argv, err := evalCommand(m.Build.Command, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: build command: %w", m.File, err)
	}
	argv = append(argv, p.Env.Symbols...)

	cmd, err := p.command(m, m.Build, evalCtx, argv)
	if err != nil {
		return nil, err
	}
	return []planner.Invocation{planner.NewInvocation(planner.Build, m.ID, cmd)}, nil
}

func (p *Planner) planTest(m *Manifest) ([]planner.Invocation, error) {
	files, err := testFiles(m.Dir, m.Test.Match)
	if err != nil {
		return nil, fmt.Errorf("%s: selecting tests: %w", m.File, err)
	}

	appendFile := !references(m.Test.Command, "file")
	invs := make([]planner.Invocation, 0, len(files))
	for _, f := range files {
		fileVal := cty.StringVal(f)
		evalCtx := p.evalContext(m, &fileVal)
		argv, err := evalCommand(m.Test.Command, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("%s: test command: %w", m.File, err)
		}
		if appendFile {
			argv = append(argv, f)
		}
		cmd, err := p.command(m, m.Test, evalCtx, argv)
		if err != nil {
			return nil, err
		}
		invs = append(invs, planner.NewInvocation(planner.Test, m.ID, cmd, f))
	}
	return invs, nil
}

func (p *Planner) command(m *Manifest, a *Action, evalCtx *hcl.EvalContext, argv []string) (planner.Command, error) {
	env, err := evalEnv(a.Env, evalCtx)
	if err != nil {
		return planner.Command{}, fmt.Errorf("%s: env: %w", m.File, err)
	}
	env["F_PROJECT"] = string(m.ID)
	return planner.Command{
		Path: argv[0],
		Args: argv,
		Env:  p.Env.Vars(env),
		Dir:  m.Dir,
	}, nil
}

func (p *Planner) evalContext(m *Manifest, file *cty.Value) *hcl.EvalContext {
	symbols := cty.ListValEmpty(cty.String)
	if len(p.Env.Symbols) > 0 {
		vals := make([]cty.Value, len(p.Env.Symbols))
		for i, s := range p.Env.Symbols {
			vals[i] = cty.StringVal(s)
		}
		symbols = cty.ListVal(vals)
	}
	vars := map[string]cty.Value{
		"product":   cty.StringVal(p.Env.Product),
		"project":   cty.StringVal(string(m.ID)),
		"dir":       cty.StringVal(m.Dir),
		"context":   cty.StringVal(p.Env.ContextSet),
		"cache":     cty.StringVal(p.Env.Cache),
		"intention": cty.StringVal(p.Env.Intention),
		"symbols":   symbols,
	}
	if file != nil {
		vars["file"] = *file
	}
	return &hcl.EvalContext{Variables: vars}
}

// evalCommand evaluates a command expression into an argument vector.
func evalCommand(expr hcl.Expression, evalCtx *hcl.EvalContext) ([]string, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return nil, fmt.Errorf("command is empty")
	}

	var argv []string
	ty := val.Type()
	switch {
	case ty == cty.String:
		split, err := shlex.Split(val.AsString())
		if err != nil {
			return nil, fmt.Errorf("splitting command: %w", err)
		}
		argv = split
	case ty.IsTupleType() || ty.IsListType():
		for it := val.ElementIterator(); it.Next(); {
			_, el := it.Element()
			s, err := convert.Convert(el, cty.String)
			if err != nil || s.IsNull() {
				return nil, fmt.Errorf("command elements must be strings")
			}
			argv = append(argv, s.AsString())
		}
	default:
		return nil, fmt.Errorf("command must be a string or a list of strings, got %s", ty.FriendlyName())
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("command is empty")
	}
	return argv, nil
}

// evalEnv evaluates an env expression into a map. A missing env is empty.
func evalEnv(expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]string, error) {
	out := map[string]string{}
	if expr == nil {
		return out, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return out, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("env must be an object, got %s", ty.FriendlyName())
	}
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		s, err := convert.Convert(v, cty.String)
		if err != nil || s.IsNull() || !s.IsKnown() {
			return nil, fmt.Errorf("env %s must be a string", k.AsString())
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}

// references reports whether expr reads the named variable.
func references(expr hcl.Expression, name string) bool {
	for _, tr := range expr.Variables() {
		if tr.RootName() == name {
			return true
		}
	}
	return false
}

// testFiles lists the files below dir whose base name matches pattern, as
// slash paths relative to dir. Nested projects and hidden directories are not
// entered.
func testFiles(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad match pattern %q: %w", pattern, err)
	}
	match := func(name string) bool {
		ok, _ := filepath.Match(pattern, name)
		return ok && name != FileName
	}
	nested := func(d string) bool { return fsutil.HasFile(d, FileName) }
	return fsutil.FindFiles(dir, match, nested)
}
