package compiler

// Context is the abstract machine state at one program point: the typed
// stack, where each slot was produced, and the visible let bindings.
type Context struct {
	stack     []TypeFrame
	locations []Location
	bindings  map[string]TypeFrame
}

func newContext() *Context {
	return &Context{bindings: make(map[string]TypeFrame)}
}

// fork copies the stack and shares the bindings.
func (c *Context) fork() *Context {
	return &Context{
		stack:     append([]TypeFrame(nil), c.stack...),
		locations: append([]Location(nil), c.locations...),
		bindings:  c.bindings,
	}
}

func (c *Context) len() int {
	return len(c.stack)
}

func (c *Context) push(t TypeFrame, loc Location) {
	c.stack = append(c.stack, t.at(loc))
	c.locations = append(c.locations, loc)
}

// top returns the n top slots, deepest first, without popping them.
func (c *Context) top(n int) []TypeFrame {
	return c.stack[len(c.stack)-n:]
}

// popN removes and returns the n top slots, deepest first.
func (c *Context) popN(n int) ([]TypeFrame, []Location) {
	at := len(c.stack) - n
	types := append([]TypeFrame(nil), c.stack[at:]...)
	locs := append([]Location(nil), c.locations[at:]...)
	c.stack = c.stack[:at]
	c.locations = c.locations[:at]
	return types, locs
}

// Stack returns a copy of the current stack, bottom first.
func (c *Context) Stack() []TypeFrame {
	return append([]TypeFrame(nil), c.stack...)
}

// describe attaches the stack contents to d, top first.
func (c *Context) describe(d *Diagnostic, label string) *Diagnostic {
	if len(c.stack) == 0 {
		return d.hint("%s: the stack is empty", label)
	}
	d.hint("%s: [%s]", label, formatTypes(c.stack))
	for i := len(c.stack) - 1; i >= 0; i-- {
		d.note(c.locations[i], "`%s` pushed here", c.stack[i])
	}
	return d
}

// unifier holds generic bindings for one signature application.
type unifier map[string]TypeFrame

// typeFrameEquals matches an actual stack slot against an expected type.
// Unknown on either side always matches. An expected generic binds on first
// use and must match its binding afterwards.
func typeFrameEquals(expected, actual TypeFrame, u unifier) bool {
	switch {
	case expected.Kind == TypeUnknown || actual.Kind == TypeUnknown:
		return true
	case expected.Kind == TypeGeneric:
		if bound, ok := u[expected.Label]; ok {
			return sameType(bound, actual)
		}
		u[expected.Label] = actual
		return true
	case actual.Kind == TypeGeneric:
		return false
	case expected.Kind == TypePtr:
		return actual.isPointer()
	case expected.Kind == TypePtrTo:
		return actual.Kind == TypePtrTo && typeFrameEquals(*expected.Elem, *actual.Elem, u)
	}
	return expected.Kind == actual.Kind
}

// substitute replaces bound generics in t. Unbound generics become Unknown.
func substitute(t TypeFrame, u unifier) TypeFrame {
	switch t.Kind {
	case TypeGeneric:
		if bound, ok := u[t.Label]; ok {
			return bound.at(t.Loc)
		}
		return UnknownType(t.Loc)
	case TypePtrTo:
		return PtrToType(substitute(*t.Elem, u), t.Loc)
	}
	return t
}
