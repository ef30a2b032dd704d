package revset

import (
	"fmt"
	"regexp"
	"strings"

	"revlog/internal/dag"
	"revlog/internal/event"
)

type funcDef struct {
	minArgs, maxArgs int
	eval             func(ctx *Context, call *Call) (dag.CommitSet, error)
}

func (d funcDef) arity() string {
	switch {
	case d.minArgs == d.maxArgs && d.minArgs == 1:
		return "1 argument"
	case d.minArgs == d.maxArgs:
		return fmt.Sprintf("%d arguments", d.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", d.minArgs, d.maxArgs)
	}
}

// functions is the registry of recognized revset functions. It is
// extensible: downstream consumers register more via Register.
// Populated in init to avoid an initialization cycle through eval.
var functions map[string]funcDef

func init() {
	functions = map[string]funcDef{
		"all":     {0, 0, func(ctx *Context, _ *Call) (dag.CommitSet, error) { return ctx.View.Visible(), nil }},
		"none":    {0, 0, func(_ *Context, _ *Call) (dag.CommitSet, error) { return dag.NewSet(), nil }},
		"visible": {0, 0, func(ctx *Context, _ *Call) (dag.CommitSet, error) { return ctx.View.Visible(), nil }},
		"hidden":  {0, 0, func(ctx *Context, _ *Call) (dag.CommitSet, error) { return ctx.View.Hidden(), nil }},
		"obsolete": {0, 0, func(ctx *Context, _ *Call) (dag.CommitSet, error) {
			return ctx.View.ObsoleteSet(), nil
		}},
		"branches": {0, 0, evalBranches},
		"main":     {0, 0, evalMain},
		"draft":    {0, 0, evalDraft},

		"ancestors":   {1, 1, closureFunc((*dag.Graph).Ancestors)},
		"descendants": {1, 1, closureFunc((*dag.Graph).Descendants)},
		"parents":     {1, 1, closureFunc((*dag.Graph).Parents)},
		"children":    {1, 1, closureFunc((*dag.Graph).Children)},
		"roots":       {1, 1, closureFunc((*dag.Graph).Roots)},
		"heads":       {1, 1, closureFunc((*dag.Graph).Heads)},

		"range":    {2, 2, evalRangeFunc},
		"exactly":  {2, 2, evalExactly},
		"messages": {1, 1, matchFunc(messageOf)},
		"message":  {1, 1, matchFunc(messageOf)},
		"author":   {1, 1, matchFunc(authorOf)},
	}
}

// Register adds a function to the registry. It is meant for consumers that
// extend the language; registering an existing name panics.
func Register(name string, minArgs, maxArgs int, eval func(ctx *Context, call *Call) (dag.CommitSet, error)) {
	if _, ok := functions[name]; ok {
		panic(fmt.Sprintf("revset function %q already registered", name))
	}
	functions[name] = funcDef{minArgs, maxArgs, eval}
}

func closureFunc(op func(*dag.Graph, dag.CommitSet) (dag.CommitSet, error)) func(*Context, *Call) (dag.CommitSet, error) {
	return func(ctx *Context, call *Call) (dag.CommitSet, error) {
		set, err := eval(ctx, call.Args[0])
		if err != nil {
			return nil, err
		}
		return op(ctx.Graph, set)
	}
}

func evalBranches(ctx *Context, _ *Call) (dag.CommitSet, error) {
	out := dag.NewSet()
	for name, target := range ctx.Refs {
		if name == "HEAD" || target == "" {
			continue
		}
		out.Add(target)
	}
	return out, nil
}

func evalMain(ctx *Context, _ *Call) (dag.CommitSet, error) {
	target, ok := ctx.Refs[ctx.Main]
	if !ok || target == "" {
		return dag.NewSet(), nil
	}
	return ctx.Graph.Ancestors(dag.NewSet(target))
}

func evalDraft(ctx *Context, call *Call) (dag.CommitSet, error) {
	main, err := evalMain(ctx, call)
	if err != nil {
		return nil, err
	}
	return ctx.View.Visible().Difference(main), nil
}

func evalRangeFunc(ctx *Context, call *Call) (dag.CommitSet, error) {
	from, err := eval(ctx, call.Args[0])
	if err != nil {
		return nil, err
	}
	to, err := eval(ctx, call.Args[1])
	if err != nil {
		return nil, err
	}
	down, err := ctx.Graph.Descendants(from)
	if err != nil {
		return nil, err
	}
	up, err := ctx.Graph.Ancestors(to)
	if err != nil {
		return nil, err
	}
	return down.Intersect(up), nil
}

// evalExactly returns its set argument unchanged when the cardinality
// matches, and fails otherwise. The count must be a literal number; alias
// expansion has already run, so aliases inside the set argument are fine.
func evalExactly(ctx *Context, call *Call) (dag.CommitSet, error) {
	num, ok := call.Args[1].(*Num)
	if !ok {
		return nil, &ParseError{Pos: call.Args[1].Pos(), Msg: "exactly() needs a literal count"}
	}
	set, err := eval(ctx, call.Args[0])
	if err != nil {
		return nil, err
	}
	if set.Len() != num.Value {
		return nil, &CardinalityError{Want: num.Value, Got: set.Len()}
	}
	return set, nil
}

// messageOf strips trailing newlines before matching, so `^fix:$`-style
// anchors behave predictably on stored messages.
func messageOf(ctx *Context, id event.CommitID) (string, error) {
	msg, err := ctx.Info.Message(id)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(msg, "\n"), nil
}

func authorOf(ctx *Context, id event.CommitID) (string, error) {
	return ctx.Info.Author(id)
}

func matchFunc(field func(*Context, event.CommitID) (string, error)) func(*Context, *Call) (dag.CommitSet, error) {
	return func(ctx *Context, call *Call) (dag.CommitSet, error) {
		pattern, err := patternArg(call.Args[0])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &ParseError{Pos: call.Args[0].Pos(), Msg: fmt.Sprintf("invalid regex: %v", err)}
		}
		out := dag.NewSet()
		for id := range ctx.Graph.All() {
			text, err := field(ctx, id)
			if err != nil {
				return nil, err
			}
			if re.MatchString(text) {
				out.Add(id)
			}
		}
		return out, nil
	}
}

func patternArg(arg Expr) (string, error) {
	switch a := arg.(type) {
	case *Str:
		return a.Text, nil
	case *Name:
		return a.Ident, nil
	}
	return "", &ParseError{Pos: arg.Pos(), Msg: "expected a pattern string"}
}
