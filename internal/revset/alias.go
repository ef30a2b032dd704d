package revset

import (
	"fmt"
	"sort"
	"strings"
)

// CyclicAliasError reports an alias definition that refers back to itself,
// directly or through other aliases.
type CyclicAliasError struct {
	Cycle []string
}

func (e *CyclicAliasError) Error() string {
	return fmt.Sprintf("cyclic alias: %s", strings.Join(e.Cycle, " -> "))
}

// AliasTable maps user-defined names to revset expressions. Aliases may
// reference other aliases; cycles are rejected at registration time, before
// either definition becomes usable.
type AliasTable struct {
	defs map[string]Expr
	src  map[string]string
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{defs: make(map[string]Expr), src: make(map[string]string)}
}

// Define registers name as an alias for the given expression text. The text
// must parse, and the resulting table must stay acyclic; on a cycle the
// table is left unchanged.
func (t *AliasTable) Define(name, src string) error {
	expr, err := Parse(src)
	if err != nil {
		return fmt.Errorf("alias %s: %w", name, err)
	}
	old, had := t.defs[name]
	oldSrc := t.src[name]
	t.defs[name] = expr
	t.src[name] = src
	if cycle := t.findCycle(name); cycle != nil {
		if had {
			t.defs[name], t.src[name] = old, oldSrc
		} else {
			delete(t.defs, name)
			delete(t.src, name)
		}
		return &CyclicAliasError{Cycle: cycle}
	}
	return nil
}

// Load registers a whole mapping (e.g. the persisted alias table) and
// re-validates every entry.
func (t *AliasTable) Load(defs map[string]string) error {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expr, err := Parse(defs[name])
		if err != nil {
			return fmt.Errorf("alias %s: %w", name, err)
		}
		t.defs[name] = expr
		t.src[name] = defs[name]
	}
	for _, name := range names {
		if cycle := t.findCycle(name); cycle != nil {
			return &CyclicAliasError{Cycle: cycle}
		}
	}
	return nil
}

// Source returns the definition text of an alias, if registered.
func (t *AliasTable) Source(name string) (string, bool) {
	src, ok := t.src[name]
	return src, ok
}

// Names returns all registered alias names, sorted.
func (t *AliasTable) Names() []string {
	names := make([]string, 0, len(t.defs))
	for name := range t.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove drops an alias from the table.
func (t *AliasTable) Remove(name string) {
	delete(t.defs, name)
	delete(t.src, name)
}

// findCycle runs a depth-first walk over alias references from start and
// returns the cycle path if one exists.
func (t *AliasTable) findCycle(start string) []string {
	var path []string
	onPath := make(map[string]bool)
	done := make(map[string]bool)

	var visit func(name string) []string
	visit = func(name string) []string {
		if onPath[name] {
			// Trim the path to the cycle itself.
			for i, n := range path {
				if n == name {
					return append(append([]string(nil), path[i:]...), name)
				}
			}
			return append(append([]string(nil), path...), name)
		}
		if done[name] {
			return nil
		}
		expr, ok := t.defs[name]
		if !ok {
			return nil
		}
		onPath[name] = true
		path = append(path, name)
		for _, ref := range referencedNames(expr) {
			if cycle := visit(ref); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		onPath[name] = false
		done[name] = true
		return nil
	}
	return visit(start)
}

// referencedNames collects every bare name an expression mentions.
func referencedNames(expr Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch e := e.(type) {
		case *Name:
			out = append(out, e.Ident)
		case *Call:
			for _, a := range e.Args {
				walk(a)
			}
		case *Binary:
			walk(e.L)
			walk(e.R)
		case *Range:
			if e.L != nil {
				walk(e.L)
			}
			if e.R != nil {
				walk(e.R)
			}
		}
	}
	walk(expr)
	return out
}

// Expand substitutes alias definitions into expr. Expansion happens before
// arity and cardinality checks, so aliases work anywhere a sub-expression
// does. The table is acyclic by construction, so recursion terminates.
func (t *AliasTable) Expand(expr Expr) Expr {
	switch e := expr.(type) {
	case *Name:
		if def, ok := t.defs[e.Ident]; ok {
			return t.Expand(def)
		}
		return e
	case *Call:
		out := &Call{Func: e.Func, At: e.At}
		for _, a := range e.Args {
			out.Args = append(out.Args, t.Expand(a))
		}
		return out
	case *Binary:
		return &Binary{Op: e.Op, L: t.Expand(e.L), R: t.Expand(e.R), At: e.At}
	case *Range:
		out := &Range{At: e.At}
		if e.L != nil {
			out.L = t.Expand(e.L)
		}
		if e.R != nil {
			out.R = t.Expand(e.R)
		}
		return out
	}
	return expr
}
