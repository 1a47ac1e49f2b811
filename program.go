package mlt

// OpKind discriminates the instruction kinds of a compiled unit. Kinds are
// strings so compiled artifacts stay readable on disk.
type OpKind string

const (
	// OpText writes a literal chunk of template output.
	OpText OpKind = "text"
	// OpEcho evaluates an expression and writes it HTML-escaped. Values that
	// are already safe markup (slots, attribute bags, HTML) pass through.
	OpEcho OpKind = "echo"
	// OpEchoRaw evaluates an expression and writes it verbatim.
	OpEchoRaw OpKind = "raw"
	// OpIf evaluates Branches in order and executes the first truthy one,
	// falling back to Else.
	OpIf OpKind = "if"
	// OpForeach iterates a list or map binding ValVar (and optionally KeyVar).
	OpForeach OpKind = "foreach"
	// OpFor runs a counted loop: Init assignment, Expr condition, Post
	// assignment.
	OpFor OpKind = "for"
	// OpWhile loops while Expr is truthy.
	OpWhile OpKind = "while"
	// OpBreak exits Level enclosing loops (default 1).
	OpBreak OpKind = "break"
	// OpContinue skips to the next iteration of Level enclosing loops.
	OpContinue OpKind = "continue"
	// OpInclude renders another view in an inherited scope frame. Name is the
	// logical view name; Expr optionally evaluates to a map of extra bindings.
	OpInclude OpKind = "include"
	// OpComponent invokes a component: Name resolved against the component
	// search directories, Attrs evaluated in the invoking scope, Body the
	// default slot, Slots the named slots.
	OpComponent OpKind = "component"
	// OpBoolAttr writes Name as a bare HTML attribute when Expr is truthy
	// (checked, selected, disabled, required, readonly).
	OpBoolAttr OpKind = "boolattr"
	// OpJSON writes the expression value as JSON. Name distinguishes the
	// "json" and "js" output flavors.
	OpJSON OpKind = "json"
	// OpHelperIf guards Body behind a host helper check. Name is one of
	// auth, guest, env, error; Expr carries the argument where one applies.
	OpHelperIf OpKind = "helperif"
)

// Attr is one classified component attribute.
type Attr struct {
	Name string `json:"name"`
	// Kind is literal, interp, expr or bool.
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
	// Ops holds the compiled value for interp attributes, whose literal text
	// contains interpolation markers.
	Ops []Op `json:"ops,omitempty"`
}

// Branch is one arm of an OpIf.
type Branch struct {
	Cond Expression `json:"cond"`
	Body []Op       `json:"body"`
}

// Assign is a "name = expr" clause of an OpFor header.
type Assign struct {
	Var  string     `json:"var"`
	Expr Expression `json:"expr"`
}

// Op is a single instruction of a compiled unit.
type Op struct {
	Kind     OpKind          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	Expr     Expression      `json:"expr,omitempty"`
	Name     string          `json:"name,omitempty"`
	KeyVar   string          `json:"keyVar,omitempty"`
	ValVar   string          `json:"valVar,omitempty"`
	Init     *Assign         `json:"init,omitempty"`
	Post     *Assign         `json:"post,omitempty"`
	Level    int             `json:"level,omitempty"`
	Branches []Branch        `json:"branches,omitempty"`
	Else     []Op            `json:"else,omitempty"`
	Body     []Op            `json:"body,omitempty"`
	Attrs    []Attr          `json:"attrs,omitempty"`
	Slots    map[string][]Op `json:"slots,omitempty"`
}

// Program is a compiled template unit: the executable op tree plus the
// source identity used for diagnostics and the declared parameter defaults
// extracted from a leading @props directive.
type Program struct {
	Source string         `json:"source"`
	Props  map[string]any `json:"props,omitempty"`
	Ops    []Op           `json:"ops"`
}
