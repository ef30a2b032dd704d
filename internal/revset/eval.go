package revset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"revlog/internal/dag"
	"revlog/internal/event"
	"revlog/internal/visibility"
)

// CommitInfo resolves commit content from the backing repository. The core
// never caches it beyond the current query.
type CommitInfo interface {
	Message(id event.CommitID) (string, error)
	Author(id event.CommitID) (string, error)
}

// Context carries everything an evaluation reads: the graph index, the
// resolved visibility view, the live references, and the backing
// repository's content source.
type Context struct {
	Graph *dag.Graph
	View  *visibility.View
	Refs  map[string]event.CommitID // branch names plus HEAD
	Main  string                    // main branch name
	Info  CommitInfo
}

// CardinalityError reports a failed exactly() assertion.
type CardinalityError struct {
	Want, Got int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("expected exactly %d commits, got %d", e.Want, e.Got)
}

// Evaluate parses text, expands aliases, checks function calls, and
// evaluates the expression into a commit set. Aliases may be nil.
func Evaluate(ctx *Context, text string, aliases *AliasTable) (dag.CommitSet, error) {
	expr, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if aliases != nil {
		expr = aliases.Expand(expr)
	}
	if err := checkCalls(expr); err != nil {
		return nil, err
	}
	return eval(ctx, expr)
}

// checkCalls validates function names and arity over the expanded tree.
// Expansion runs first, so an alias argument counts by what it expands to.
func checkCalls(expr Expr) error {
	switch e := expr.(type) {
	case *Call:
		def, ok := functions[e.Func]
		if !ok {
			return &ParseError{Pos: e.At, Msg: fmt.Sprintf("unknown function %q", e.Func)}
		}
		if len(e.Args) < def.minArgs || len(e.Args) > def.maxArgs {
			return &ParseError{Pos: e.At, Msg: fmt.Sprintf("%s() takes %s", e.Func, def.arity())}
		}
		for _, a := range e.Args {
			if err := checkCalls(a); err != nil {
				return err
			}
		}
	case *Binary:
		if err := checkCalls(e.L); err != nil {
			return err
		}
		return checkCalls(e.R)
	case *Range:
		if e.L != nil {
			if err := checkCalls(e.L); err != nil {
				return err
			}
		}
		if e.R != nil {
			return checkCalls(e.R)
		}
	}
	return nil
}

func eval(ctx *Context, expr Expr) (dag.CommitSet, error) {
	switch e := expr.(type) {
	case *Name:
		return resolveName(ctx, e.Ident, e.At)
	case *Str:
		return resolveName(ctx, e.Text, e.At)
	case *Num:
		return nil, &ParseError{Pos: e.At, Msg: "number literal outside a function argument"}
	case *Binary:
		return evalBinary(ctx, e)
	case *Range:
		return evalRange(ctx, e)
	case *Call:
		return functions[e.Func].eval(ctx, e)
	}
	return nil, fmt.Errorf("unhandled expression %T", expr)
}

// evalBinary evaluates the two operands concurrently. Sub-evaluations are
// side-effect free, so the merged result does not depend on scheduling.
func evalBinary(ctx *Context, b *Binary) (dag.CommitSet, error) {
	var (
		left dag.CommitSet
		lerr error
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		left, lerr = eval(ctx, b.L)
	}()
	right, rerr := eval(ctx, b.R)
	wg.Wait()
	if lerr != nil {
		return nil, lerr
	}
	if rerr != nil {
		return nil, rerr
	}
	switch b.Op {
	case OpUnion:
		return left.Union(right), nil
	case OpIntersect:
		return left.Intersect(right), nil
	default:
		return left.Difference(right), nil
	}
}

func evalRange(ctx *Context, r *Range) (dag.CommitSet, error) {
	var down, up dag.CommitSet
	if r.L != nil {
		from, err := eval(ctx, r.L)
		if err != nil {
			return nil, err
		}
		if down, err = ctx.Graph.Descendants(from); err != nil {
			return nil, err
		}
	}
	if r.R != nil {
		to, err := eval(ctx, r.R)
		if err != nil {
			return nil, err
		}
		if up, err = ctx.Graph.Ancestors(to); err != nil {
			return nil, err
		}
	}
	switch {
	case down == nil:
		return up, nil
	case up == nil:
		return down, nil
	default:
		return down.Intersect(up), nil
	}
}

// resolveName resolves a bare name: a reference, a full commit id, or a
// unique hex prefix of one. An unknown name is an error, not an empty set,
// so typos surface instead of silently matching nothing.
func resolveName(ctx *Context, ident string, pos int) (dag.CommitSet, error) {
	if target, ok := ctx.Refs[ident]; ok && target != "" {
		return dag.NewSet(target), nil
	}
	id := event.CommitID(ident)
	if ctx.Graph.Contains(id) {
		return dag.NewSet(id), nil
	}
	if len(ident) >= 4 && isHexString(ident) {
		var matches []event.CommitID
		for cid := range ctx.Graph.All() {
			if strings.HasPrefix(string(cid), ident) {
				matches = append(matches, cid)
			}
		}
		switch len(matches) {
		case 1:
			return dag.NewSet(matches[0]), nil
		case 0:
			// fall through to UnknownCommit
		default:
			sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
			return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("ambiguous commit prefix %q (%d matches)", ident, len(matches))}
		}
	}
	return nil, &dag.UnknownCommitError{ID: id}
}

func isHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
