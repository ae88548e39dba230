package vgexpr

// Node is a parsed expression node.
//
// This is a sealed interface - only types in this package implement it,
// so translators can switch exhaustively over node types.
type Node interface {
	exprNode()
}

// Literal is a number, string, boolean or null constant.
// Numbers are always float64, matching the expression language's number type.
type Literal struct {
	Value any // float64, string, bool or nil
}

func (Literal) exprNode() {}

// Ident is a bare identifier. Outside of "datum" it names a signal.
type Ident struct {
	Name string
}

func (Ident) exprNode() {}

// Member is a static property access: a.b or a["b"].
type Member struct {
	Object   Node
	Property string
}

func (Member) exprNode() {}

// Index is a computed property access whose key is not a constant: a[b].
type Index struct {
	Object Node
	Key    Node
}

func (Index) exprNode() {}

// Unary is a prefix operator application: !x, -x, +x.
type Unary struct {
	Op string
	X  Node
}

func (Unary) exprNode() {}

// Binary is an infix operator application, including && and ||.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

func (Binary) exprNode() {}

// Conditional is the ternary test ? then : else.
type Conditional struct {
	Test Node
	Then Node
	Else Node
}

func (Conditional) exprNode() {}

// Call is a function call. Only named functions can be called.
type Call struct {
	Callee string
	Args   []Node
}

func (Call) exprNode() {}

// Array is an array literal [a, b, ...].
type Array struct {
	Elems []Node
}

func (Array) exprNode() {}
