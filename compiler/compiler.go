package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/bytevm/vm"
)

// ---------------------------------------------------------------------------
// Compiler: recursive descent from tokens straight to bytecode
// ---------------------------------------------------------------------------

// Option configures a compilation.
type Option func(*options)

type options struct {
	interactive bool
}

// Interactive makes top-level expression statements echo their value with
// PRINT_EXPR instead of discarding it.
func Interactive() Option {
	return func(o *options) { o.interactive = true }
}

// Fingerprint names the settings opts select. Two option lists with the
// same fingerprint emit identical code for the same source.
func Fingerprint(opts ...Option) string {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return fmt.Sprintf("interactive=%t", o.interactive)
}

// Compiler turns a token slice into a flat instruction sequence. Function
// bodies are compiled by a child Compiler that shares the token slice and
// cursor with its parent.
type Compiler struct {
	tokens []Token
	pos    *int
	code   []vm.Instruction
	line   int
	opts   options

	function bool
	globals  map[string]bool
	loops    []*loop
}

// loop tracks the jump targets of the innermost enclosing loop.
type loop struct {
	start  int
	breaks []int
}

// CompileSource lexes and compiles src.
func CompileSource(src string, opts ...Option) ([]vm.Instruction, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return Compile(tokens, opts...)
}

// Compile compiles a module body. The result always ends in an implicit
// "return None". On error no code is returned.
func Compile(tokens []Token, opts ...Option) ([]vm.Instruction, error) {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		var pos Position
		if len(tokens) > 0 {
			pos = tokens[len(tokens)-1].Pos
		}
		tokens = append(tokens[:len(tokens):len(tokens)], Token{Type: TokenEOF, Pos: pos})
	}

	c := &Compiler{tokens: tokens, pos: new(int), line: 1}
	for _, opt := range opts {
		opt(&c.opts)
	}

	for c.peek().Type != TokenEOF {
		if c.accept(TokenNewline) {
			continue
		}
		if err := c.statement(); err != nil {
			return nil, err
		}
	}
	c.emitConst(vm.OpLoadConst, vm.None)
	c.emit(vm.OpReturnValue, 0)
	return c.code, nil
}

// ---------------------------------------------------------------------------
// Token cursor
// ---------------------------------------------------------------------------

func (c *Compiler) peek() Token {
	return c.peekAt(0)
}

func (c *Compiler) peekAt(n int) Token {
	i := *c.pos + n
	if i >= len(c.tokens) {
		i = len(c.tokens) - 1
	}
	return c.tokens[i]
}

func (c *Compiler) next() Token {
	tok := c.peek()
	if tok.Type != TokenEOF {
		*c.pos++
	}
	if tok.Pos.Line > 0 {
		c.line = tok.Pos.Line
	}
	return tok
}

func (c *Compiler) accept(typ TokenType) bool {
	if c.peek().Type == typ {
		c.next()
		return true
	}
	return false
}

func (c *Compiler) acceptLit(lit string) bool {
	if c.peek().is(lit) {
		c.next()
		return true
	}
	return false
}

func (c *Compiler) expectLit(lit string) error {
	if !c.acceptLit(lit) {
		return c.expected("'" + lit + "'")
	}
	return nil
}

func (c *Compiler) expectIdent() (string, error) {
	tok := c.peek()
	if tok.Type != TokenIdentifier {
		return "", c.expected("identifier")
	}
	c.next()
	return tok.Literal, nil
}

func (c *Compiler) expected(what string) error {
	tok := c.peek()
	line := tok.Pos.Line
	if line == 0 {
		line = c.line
	}
	return &SyntaxError{
		Line:       line,
		Expected:   what,
		Found:      tok.describe(),
		Incomplete: tok.Type == TokenEOF,
	}
}

func (c *Compiler) errorf(format string, args ...any) error {
	return &SyntaxError{Line: c.line, Msg: fmt.Sprintf(format, args...)}
}

// matching returns the index of the bracket closing the one at open.
func (c *Compiler) matching(open int) int {
	depth := 0
	for i := open; i < len(c.tokens); i++ {
		tok := c.tokens[i]
		if tok.Type != TokenPunct {
			continue
		}
		switch tok.Literal {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) here() int {
	return len(c.code)
}

func (c *Compiler) emit(op vm.Opcode, arg int) int {
	c.code = append(c.code, vm.Instruction{Op: op, Arg: arg, Line: c.line})
	return len(c.code) - 1
}

func (c *Compiler) emitConst(op vm.Opcode, v vm.Value) int {
	c.code = append(c.code, vm.Instruction{Op: op, Const: v, Line: c.line})
	return len(c.code) - 1
}

func (c *Compiler) emitName(op vm.Opcode, name string) int {
	return c.emitConst(op, vm.Str(name))
}

func (c *Compiler) patch(at, target int) {
	c.code[at].Arg = target
}

func (c *Compiler) loadName(name string) {
	if c.globals[name] {
		c.emitName(vm.OpLoadGlobal, name)
		return
	}
	c.emitName(vm.OpLoadName, name)
}

func (c *Compiler) storeName(name string) {
	if c.globals[name] {
		c.emitName(vm.OpStoreGlobal, name)
		return
	}
	c.emitName(vm.OpStoreName, name)
}

// finishFunction makes sure control cannot run off the end of a body
// without returning.
func (c *Compiler) finishFunction() {
	end := c.here()
	needed := end == 0 || c.code[end-1].Op != vm.OpReturnValue
	for _, in := range c.code {
		if in.Op.IsJump() && in.Arg == end {
			needed = true
		}
	}
	if needed {
		c.emitConst(vm.OpLoadConst, vm.None)
		c.emit(vm.OpReturnValue, 0)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) statement() error {
	tok := c.peek()
	switch {
	case tok.Type == TokenIndent:
		return c.errorf("unexpected indent")
	case tok.is("if"):
		return c.ifStatement()
	case tok.is("while"):
		return c.whileStatement()
	case tok.is("for"):
		return c.forStatement()
	case tok.is("def"):
		return c.defStatement()
	}
	return c.simpleStatements()
}

// simpleStatements compiles one line of ';'-separated simple statements.
func (c *Compiler) simpleStatements() error {
	for {
		if err := c.simpleStatement(); err != nil {
			return err
		}
		if !c.acceptLit(";") || c.atLineEnd() {
			break
		}
	}
	switch c.peek().Type {
	case TokenNewline:
		c.next()
	case TokenEOF, TokenDedent:
	default:
		return c.expected("newline")
	}
	return nil
}

func (c *Compiler) atLineEnd() bool {
	tok := c.peek()
	switch tok.Type {
	case TokenNewline, TokenEOF, TokenDedent:
		return true
	}
	return tok.is(";")
}

func (c *Compiler) simpleStatement() error {
	tok := c.peek()
	switch {
	case tok.is("pass"):
		c.next()
		return nil
	case tok.is("break"):
		return c.breakStatement()
	case tok.is("continue"):
		return c.continueStatement()
	case tok.is("return"):
		return c.returnStatement()
	case tok.is("import"):
		return c.importStatement()
	case tok.is("from"):
		return c.fromStatement()
	case tok.is("global"):
		return c.globalStatement()
	case tok.Type == TokenIdentifier && tok.Literal == "print" && c.isPrintStatement():
		return c.printStatement()
	case tok.Type == TokenKeyword && unsupported[tok.Literal]:
		return c.errorf("'%s' is not supported", tok.Literal)
	}
	return c.expressionStatement()
}

var unsupported = map[string]bool{
	"class": true, "try": true, "except": true, "finally": true, "raise": true,
	"with": true, "lambda": true, "yield": true, "del": true, "assert": true,
	"nonlocal": true, "async": true, "await": true,
}

// isPrintStatement distinguishes "print x" from uses of the print builtin
// such as "print(x)" or "p = print". "print [1]" prints a list.
func (c *Compiler) isPrintStatement() bool {
	next := c.peekAt(1)
	switch next.Type {
	case TokenNewline, TokenEOF, TokenDedent:
		return true
	case TokenPunct:
		switch next.Literal {
		case "(", ".", "=", ",", ")", "]", "}", ":",
			"+=", "-=", "*=", "/=", "//=", "%=", "**=",
			"==", "!=", "<", "<=", ">", ">=", "*", "/", "//", "%", "**":
			return false
		}
		return true
	case TokenKeyword:
		return !binaryKeywords[next.Literal]
	}
	return true
}

var binaryKeywords = map[string]bool{"and": true, "or": true, "in": true, "is": true, "if": true, "for": true}

func (c *Compiler) printStatement() error {
	c.next()
	n := 0
	for !c.atLineEnd() {
		if err := c.expr(); err != nil {
			return err
		}
		n++
		if !c.acceptLit(",") {
			break
		}
	}
	c.emit(vm.OpPrintItems, n)
	return nil
}

func (c *Compiler) breakStatement() error {
	c.next()
	if len(c.loops) == 0 {
		return c.errorf("'break' outside loop")
	}
	l := c.loops[len(c.loops)-1]
	l.breaks = append(l.breaks, c.emit(vm.OpJumpAbsolute, -1))
	return nil
}

func (c *Compiler) continueStatement() error {
	c.next()
	if len(c.loops) == 0 {
		return c.errorf("'continue' not properly in loop")
	}
	c.emit(vm.OpJumpAbsolute, c.loops[len(c.loops)-1].start)
	return nil
}

func (c *Compiler) returnStatement() error {
	c.next()
	if c.atLineEnd() {
		c.emitConst(vm.OpLoadConst, vm.None)
	} else if err := c.exprList(); err != nil {
		return err
	}
	c.emit(vm.OpReturnValue, 0)
	return nil
}

func (c *Compiler) globalStatement() error {
	c.next()
	for {
		name, err := c.expectIdent()
		if err != nil {
			return err
		}
		if c.function {
			c.globals[name] = true
		}
		if !c.acceptLit(",") {
			return nil
		}
	}
}

// dottedName parses a.b.c.
func (c *Compiler) dottedName() (string, error) {
	if c.peek().is(".") {
		return "", c.errorf("relative imports are not supported")
	}
	first, err := c.expectIdent()
	if err != nil {
		return "", err
	}
	parts := []string{first}
	for c.acceptLit(".") {
		part, err := c.expectIdent()
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "."), nil
}

// importStatement compiles "import a.b [as c], d". Without an alias the
// top-level package is bound, so a.b stays reachable as an attribute.
func (c *Compiler) importStatement() error {
	c.next()
	for {
		name, err := c.dottedName()
		if err != nil {
			return err
		}
		if c.acceptLit("as") {
			alias, err := c.expectIdent()
			if err != nil {
				return err
			}
			c.emitName(vm.OpImportName, name)
			c.code[c.here()-1].Arg = 1
			c.storeName(alias)
		} else {
			c.emitName(vm.OpImportName, name)
			top, _, _ := strings.Cut(name, ".")
			c.storeName(top)
		}
		if !c.acceptLit(",") {
			return nil
		}
	}
}

func (c *Compiler) fromStatement() error {
	c.next()
	module, err := c.dottedName()
	if err != nil {
		return err
	}
	if err := c.expectLit("import"); err != nil {
		return err
	}
	c.emitName(vm.OpImportName, module)
	c.code[c.here()-1].Arg = 1

	if c.acceptLit("*") {
		c.emit(vm.OpImportStar, 0)
		return nil
	}

	paren := c.acceptLit("(")
	for {
		name, err := c.expectIdent()
		if err != nil {
			return err
		}
		alias := name
		if c.acceptLit("as") {
			if alias, err = c.expectIdent(); err != nil {
				return err
			}
		}
		c.emitName(vm.OpImportFrom, name)
		c.storeName(alias)
		if !c.acceptLit(",") {
			break
		}
		if paren && c.peek().is(")") {
			break
		}
	}
	if paren {
		if err := c.expectLit(")"); err != nil {
			return err
		}
	}
	c.emit(vm.OpPopTop, 0)
	return nil
}

var augOps = map[string]vm.Opcode{
	"+=":  vm.OpBinaryAdd,
	"-=":  vm.OpBinarySubtract,
	"*=":  vm.OpBinaryMultiply,
	"/=":  vm.OpBinaryTrueDivide,
	"//=": vm.OpBinaryFloorDivide,
	"%=":  vm.OpBinaryModulo,
	"**=": vm.OpBinaryPower,
}

// scanAssign looks ahead on the current line for a top-level '=' or
// augmented assignment operator. It returns -1 when there is none.
func (c *Compiler) scanAssign(from int) int {
	depth := 0
	for i := from; i < len(c.tokens); i++ {
		tok := c.tokens[i]
		switch tok.Type {
		case TokenNewline, TokenEOF, TokenDedent, TokenIndent:
			return -1
		case TokenPunct:
			switch tok.Literal {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ";":
				if depth == 0 {
					return -1
				}
			default:
				if depth == 0 && (tok.Literal == "=" || augOps[tok.Literal] != 0) {
					return i
				}
			}
		}
	}
	return -1
}

func (c *Compiler) expressionStatement() error {
	start := *c.pos
	eq := c.scanAssign(start)
	if eq < 0 {
		if err := c.exprList(); err != nil {
			return err
		}
		if c.opts.interactive && !c.function {
			c.emit(vm.OpPrintExpr, 0)
		} else {
			c.emit(vm.OpPopTop, 0)
		}
		return nil
	}

	op := c.tokens[eq].Literal
	if op != "=" {
		return c.augAssign(start, eq, augOps[op])
	}
	if c.scanAssign(eq+1) >= 0 {
		c.line = c.tokens[eq].Pos.Line
		return c.errorf("chained assignment is not supported")
	}
	if eq == start {
		return c.expected("expression")
	}

	// The value is evaluated before the target's container and key.
	*c.pos = eq + 1
	if err := c.exprList(); err != nil {
		return err
	}
	end := *c.pos
	*c.pos = start
	if err := c.target(eq); err != nil {
		return err
	}
	*c.pos = end
	return nil
}

func (c *Compiler) augAssign(start, eq int, op vm.Opcode) error {
	tok := c.tokens[start]
	if tok.Type != TokenIdentifier || eq != start+1 {
		c.line = tok.Pos.Line
		return c.errorf("augmented assignment needs a plain name target")
	}
	c.next()
	c.loadName(tok.Literal)
	c.next() // operator
	if err := c.expr(); err != nil {
		return err
	}
	c.emit(op, 0)
	c.storeName(tok.Literal)
	return nil
}

// target compiles the assignment target spanning the tokens up to end.
// The value is already on the stack.
func (c *Compiler) target(end int) error {
	tok := c.next()
	if tok.Type != TokenIdentifier {
		return c.errorf("cannot assign to %s", tok.describe())
	}
	if *c.pos == end {
		c.storeName(tok.Literal)
		return nil
	}
	c.loadName(tok.Literal)

	for *c.pos < end {
		t := c.next()
		switch {
		case t.is("."):
			name, err := c.expectIdent()
			if err != nil {
				return err
			}
			if *c.pos == end {
				c.emitName(vm.OpStoreAttr, name)
				return nil
			}
			c.emitName(vm.OpLoadAttr, name)

		case t.is("["):
			closing := c.matching(*c.pos - 1)
			if err := c.exprList(); err != nil {
				return err
			}
			if err := c.expectLit("]"); err != nil {
				return err
			}
			if closing+1 == end {
				c.emit(vm.OpStoreSubscr, 0)
				return nil
			}
			c.emit(vm.OpBinarySubscr, 0)

		case t.is("("):
			closing := c.matching(*c.pos - 1)
			if closing+1 == end {
				return c.errorf("cannot assign to function call")
			}
			if err := c.callArgs(); err != nil {
				return err
			}

		default:
			return c.errorf("cannot assign to expression")
		}
	}
	return c.errorf("cannot assign to expression")
}

// suite compiles an indented block, or the simple statements following a
// colon on the same line.
func (c *Compiler) suite() error {
	if !c.accept(TokenNewline) {
		return c.simpleStatements()
	}
	if !c.accept(TokenIndent) {
		return c.expected("an indented block")
	}
	for {
		switch c.peek().Type {
		case TokenDedent:
			c.next()
			return nil
		case TokenEOF:
			return nil
		case TokenNewline:
			c.next()
			continue
		}
		if err := c.statement(); err != nil {
			return err
		}
	}
}

func (c *Compiler) ifStatement() error {
	c.next()
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expectLit(":"); err != nil {
		return err
	}
	skip := c.emit(vm.OpPopJumpIfFalse, -1)
	if err := c.suite(); err != nil {
		return err
	}

	var ends []int
	for {
		tok := c.peek()
		if !tok.is("elif") && !tok.is("else") {
			break
		}
		ends = append(ends, c.emit(vm.OpJumpAbsolute, -1))
		c.patch(skip, c.here())
		skip = -1
		c.next()

		if tok.is("else") {
			if err := c.expectLit(":"); err != nil {
				return err
			}
			if err := c.suite(); err != nil {
				return err
			}
			break
		}
		if err := c.expr(); err != nil {
			return err
		}
		if err := c.expectLit(":"); err != nil {
			return err
		}
		skip = c.emit(vm.OpPopJumpIfFalse, -1)
		if err := c.suite(); err != nil {
			return err
		}
	}

	if skip >= 0 {
		c.patch(skip, c.here())
	}
	for _, at := range ends {
		c.patch(at, c.here())
	}
	return nil
}

func (c *Compiler) whileStatement() error {
	c.next()
	start := c.here()
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expectLit(":"); err != nil {
		return err
	}
	exit := c.emit(vm.OpPopJumpIfFalse, -1)

	l := &loop{start: start}
	if err := c.loopBody(l); err != nil {
		return err
	}
	c.emit(vm.OpJumpAbsolute, start)
	c.patch(exit, c.here())
	for _, at := range l.breaks {
		c.patch(at, c.here())
	}
	return nil
}

func (c *Compiler) forStatement() error {
	c.next()
	name, err := c.expectIdent()
	if err != nil {
		return err
	}
	if c.peek().is(",") {
		return c.errorf("tuple unpacking in for loops is not supported")
	}
	if err := c.expectLit("in"); err != nil {
		return err
	}
	if err := c.exprList(); err != nil {
		return err
	}
	if err := c.expectLit(":"); err != nil {
		return err
	}

	c.emit(vm.OpGetIter, 0)
	start := c.here()
	exit := c.emit(vm.OpForIter, -1)
	c.storeName(name)

	l := &loop{start: start}
	if err := c.loopBody(l); err != nil {
		return err
	}
	c.emit(vm.OpJumpAbsolute, start)

	// break leaves the iterator on the stack; exhaustion has already
	// popped it.
	if len(l.breaks) > 0 {
		cleanup := c.emit(vm.OpPopTop, 0)
		for _, at := range l.breaks {
			c.patch(at, cleanup)
		}
	}
	c.patch(exit, c.here())
	return nil
}

func (c *Compiler) loopBody(l *loop) error {
	c.loops = append(c.loops, l)
	err := c.suite()
	c.loops = c.loops[:len(c.loops)-1]
	if err == nil && c.peek().is("else") {
		return c.errorf("loop 'else' clauses are not supported")
	}
	return err
}

func (c *Compiler) defStatement() error {
	c.next()
	name, err := c.expectIdent()
	if err != nil {
		return err
	}
	if err := c.expectLit("("); err != nil {
		return err
	}
	var params []string
	seen := make(map[string]bool)
	for !c.peek().is(")") {
		p, err := c.expectIdent()
		if err != nil {
			return err
		}
		if seen[p] {
			return c.errorf("duplicate argument '%s' in function definition", p)
		}
		if c.peek().is("=") {
			return c.errorf("default argument values are not supported")
		}
		seen[p] = true
		params = append(params, p)
		if !c.acceptLit(",") {
			break
		}
	}
	if err := c.expectLit(")"); err != nil {
		return err
	}
	if err := c.expectLit(":"); err != nil {
		return err
	}

	body := &Compiler{
		tokens:   c.tokens,
		pos:      c.pos,
		line:     c.line,
		opts:     c.opts,
		function: true,
		globals:  make(map[string]bool),
	}
	if err := body.suite(); err != nil {
		return err
	}
	body.finishFunction()

	fn := &vm.Function{Name: name, Params: params, Code: body.code}
	c.emitConst(vm.OpLoadConst, vm.FunctionValue(fn))
	c.storeName(name)
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// startsExpr reports whether tok can begin an expression.
func startsExpr(tok Token) bool {
	switch tok.Type {
	case TokenIdentifier, TokenInteger, TokenFloat, TokenImaginary, TokenString, TokenBytes:
		return true
	case TokenKeyword:
		switch tok.Literal {
		case "not", "True", "False", "None":
			return true
		}
	case TokenPunct:
		switch tok.Literal {
		case "(", "[", "{", "-", "+", "~":
			return true
		}
	}
	return false
}

// exprList compiles "a" or "a, b, ..." (which builds a tuple).
func (c *Compiler) exprList() error {
	if err := c.expr(); err != nil {
		return err
	}
	if !c.peek().is(",") {
		return nil
	}
	n := 1
	for c.acceptLit(",") {
		if !startsExpr(c.peek()) {
			break
		}
		if err := c.expr(); err != nil {
			return err
		}
		n++
	}
	c.emit(vm.OpBuildTuple, n)
	return nil
}

func (c *Compiler) expr() error {
	return c.orTest()
}

func (c *Compiler) orTest() error {
	if err := c.andTest(); err != nil {
		return err
	}
	var jumps []int
	for c.acceptLit("or") {
		jumps = append(jumps, c.emit(vm.OpJumpIfTrueOrPop, -1))
		if err := c.andTest(); err != nil {
			return err
		}
	}
	for _, at := range jumps {
		c.patch(at, c.here())
	}
	return nil
}

func (c *Compiler) andTest() error {
	if err := c.notTest(); err != nil {
		return err
	}
	var jumps []int
	for c.acceptLit("and") {
		jumps = append(jumps, c.emit(vm.OpJumpIfFalseOrPop, -1))
		if err := c.notTest(); err != nil {
			return err
		}
	}
	for _, at := range jumps {
		c.patch(at, c.here())
	}
	return nil
}

func (c *Compiler) notTest() error {
	if c.acceptLit("not") {
		if err := c.notTest(); err != nil {
			return err
		}
		c.emit(vm.OpUnaryNot, 0)
		return nil
	}
	return c.comparison()
}

var compareOps = map[string]int{
	"==": vm.CmpEq, "!=": vm.CmpNe,
	"<": vm.CmpLt, "<=": vm.CmpLe,
	">": vm.CmpGt, ">=": vm.CmpGe,
	"in": vm.CmpIn,
}

// compareOp consumes a comparison operator. "is" compares by value.
func (c *Compiler) compareOp() (int, bool) {
	tok := c.peek()
	if tok.Type != TokenPunct && tok.Type != TokenKeyword {
		return 0, false
	}
	if cmp, ok := compareOps[tok.Literal]; ok {
		c.next()
		return cmp, true
	}
	switch {
	case tok.is("not") && c.peekAt(1).is("in"):
		c.next()
		c.next()
		return vm.CmpNotIn, true
	case tok.is("is"):
		c.next()
		if c.acceptLit("not") {
			return vm.CmpNe, true
		}
		return vm.CmpEq, true
	}
	return 0, false
}

// comparison chains are evaluated left to right: a < b < c is (a < b) < c.
func (c *Compiler) comparison() error {
	if err := c.arith(); err != nil {
		return err
	}
	for {
		cmp, ok := c.compareOp()
		if !ok {
			return nil
		}
		if err := c.arith(); err != nil {
			return err
		}
		c.emit(vm.OpCompareOp, cmp)
	}
}

func (c *Compiler) arith() error {
	if err := c.term(); err != nil {
		return err
	}
	for {
		var op vm.Opcode
		switch {
		case c.acceptLit("+"):
			op = vm.OpBinaryAdd
		case c.acceptLit("-"):
			op = vm.OpBinarySubtract
		default:
			return nil
		}
		if err := c.term(); err != nil {
			return err
		}
		c.emit(op, 0)
	}
}

var termOps = map[string]vm.Opcode{
	"*":  vm.OpBinaryMultiply,
	"/":  vm.OpBinaryTrueDivide,
	"//": vm.OpBinaryFloorDivide,
	"%":  vm.OpBinaryModulo,
}

func (c *Compiler) term() error {
	if err := c.factor(); err != nil {
		return err
	}
	for {
		tok := c.peek()
		op, ok := termOps[tok.Literal]
		if !ok || tok.Type != TokenPunct {
			return nil
		}
		c.next()
		if err := c.factor(); err != nil {
			return err
		}
		c.emit(op, 0)
	}
}

var unaryOps = map[string]vm.Opcode{
	"+": vm.OpUnaryPositive,
	"-": vm.OpUnaryNegative,
	"~": vm.OpUnaryInvert,
}

func (c *Compiler) factor() error {
	tok := c.peek()
	if op, ok := unaryOps[tok.Literal]; ok && tok.Type == TokenPunct {
		c.next()
		if err := c.factor(); err != nil {
			return err
		}
		c.emit(op, 0)
		return nil
	}
	return c.power()
}

// power binds tighter than unary minus on its left but not on its right:
// -2 ** 2 is -(2 ** 2) and 2 ** -1 is 2 ** (-1).
func (c *Compiler) power() error {
	if err := c.primary(); err != nil {
		return err
	}
	if c.acceptLit("**") {
		if err := c.factor(); err != nil {
			return err
		}
		c.emit(vm.OpBinaryPower, 0)
	}
	return nil
}

func (c *Compiler) primary() error {
	if err := c.atom(); err != nil {
		return err
	}
	for {
		switch {
		case c.acceptLit("("):
			if err := c.callArgs(); err != nil {
				return err
			}
		case c.acceptLit("["):
			if err := c.exprList(); err != nil {
				return err
			}
			if c.peek().is(":") {
				return c.errorf("slices are not supported")
			}
			if err := c.expectLit("]"); err != nil {
				return err
			}
			c.emit(vm.OpBinarySubscr, 0)
		case c.acceptLit("."):
			name, err := c.expectIdent()
			if err != nil {
				return err
			}
			c.emitName(vm.OpLoadAttr, name)
		default:
			return nil
		}
	}
}

// callArgs compiles the arguments after an opening parenthesis.
func (c *Compiler) callArgs() error {
	n := 0
	for !c.peek().is(")") {
		if c.peek().Type == TokenIdentifier && c.peekAt(1).is("=") {
			return c.errorf("keyword arguments are not supported")
		}
		if c.peek().is("*") || c.peek().is("**") {
			return c.errorf("argument unpacking is not supported")
		}
		if err := c.expr(); err != nil {
			return err
		}
		n++
		if !c.acceptLit(",") {
			break
		}
	}
	if err := c.expectLit(")"); err != nil {
		return err
	}
	c.emit(vm.OpCallFunction, n)
	return nil
}

func (c *Compiler) atom() error {
	tok := c.peek()
	switch tok.Type {
	case TokenInteger:
		c.next()
		n, err := parseInt(tok.Literal)
		if err != nil {
			return c.errorf("%v", err)
		}
		c.emitConst(vm.OpLoadConst, vm.Int(n))
		return nil

	case TokenFloat:
		c.next()
		f, err := strconv.ParseFloat(strings.ReplaceAll(tok.Literal, "_", ""), 64)
		if err != nil {
			return c.errorf("invalid float literal %q", tok.Literal)
		}
		c.emitConst(vm.OpLoadConst, vm.Float(f))
		return nil

	case TokenImaginary:
		c.next()
		digits := strings.ReplaceAll(tok.Literal[:len(tok.Literal)-1], "_", "")
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return c.errorf("invalid imaginary literal %q", tok.Literal)
		}
		c.emitConst(vm.OpLoadConst, vm.Complex(complex(0, f)))
		return nil

	case TokenString, TokenBytes:
		var sb strings.Builder
		for c.peek().Type == TokenString || c.peek().Type == TokenBytes {
			part := c.next()
			if part.Type != tok.Type {
				return c.errorf("cannot mix bytes and nonbytes literals")
			}
			sb.WriteString(part.Literal)
		}
		if tok.Type == TokenBytes {
			c.emitConst(vm.OpLoadConst, vm.Bytes([]byte(sb.String())))
		} else {
			c.emitConst(vm.OpLoadConst, vm.Str(sb.String()))
		}
		return nil

	case TokenIdentifier:
		c.next()
		c.loadName(tok.Literal)
		return nil

	case TokenKeyword:
		switch tok.Literal {
		case "True":
			c.next()
			c.emitConst(vm.OpLoadConst, vm.True)
			return nil
		case "False":
			c.next()
			c.emitConst(vm.OpLoadConst, vm.False)
			return nil
		case "None":
			c.next()
			c.emitConst(vm.OpLoadConst, vm.None)
			return nil
		}
		if unsupported[tok.Literal] {
			c.next()
			return c.errorf("'%s' is not supported", tok.Literal)
		}

	case TokenPunct:
		switch tok.Literal {
		case "(":
			c.next()
			return c.parenthesized()
		case "[":
			c.next()
			return c.listDisplay()
		case "{":
			c.next()
			return c.dictDisplay()
		}
	}
	return c.expected("expression")
}

// parenthesized compiles "()", "(a)" or "(a, b, ...)".
func (c *Compiler) parenthesized() error {
	if c.acceptLit(")") {
		c.emit(vm.OpBuildTuple, 0)
		return nil
	}
	if err := c.expr(); err != nil {
		return err
	}
	if c.peek().is(",") {
		n := 1
		for c.acceptLit(",") {
			if c.peek().is(")") {
				break
			}
			if err := c.expr(); err != nil {
				return err
			}
			n++
		}
		c.emit(vm.OpBuildTuple, n)
	}
	return c.expectLit(")")
}

func (c *Compiler) listDisplay() error {
	if c.acceptLit("]") {
		c.emit(vm.OpBuildList, 0)
		return nil
	}
	if at := c.comprehensionFor(); at >= 0 {
		return c.listComprehension(at)
	}
	n := 0
	for !c.peek().is("]") {
		if err := c.expr(); err != nil {
			return err
		}
		n++
		if !c.acceptLit(",") {
			break
		}
	}
	if err := c.expectLit("]"); err != nil {
		return err
	}
	c.emit(vm.OpBuildList, n)
	return nil
}

// comprehensionFor finds the 'for' of "[expr for ...]" at the current
// bracket depth, or returns -1.
func (c *Compiler) comprehensionFor() int {
	depth := 0
	for i := *c.pos; i < len(c.tokens); i++ {
		tok := c.tokens[i]
		switch {
		case tok.Type == TokenEOF:
			return -1
		case tok.is("("), tok.is("["), tok.is("{"):
			depth++
		case tok.is(")"), tok.is("]"), tok.is("}"):
			if depth == 0 {
				return -1
			}
			depth--
		case tok.is("for") && depth == 0:
			return i
		}
	}
	return -1
}

// listComprehension compiles "[expr for name in iterable if cond]". The
// element expression precedes the loop in the source but runs inside it,
// so it is compiled after the loop header.
func (c *Compiler) listComprehension(forAt int) error {
	elem := *c.pos
	*c.pos = forAt + 1

	c.emit(vm.OpBuildList, 0)
	name, err := c.expectIdent()
	if err != nil {
		return err
	}
	if err := c.expectLit("in"); err != nil {
		return err
	}
	if err := c.orTest(); err != nil {
		return err
	}
	c.emit(vm.OpGetIter, 0)
	start := c.here()
	exit := c.emit(vm.OpForIter, -1)
	c.storeName(name)

	for c.acceptLit("if") {
		if err := c.orTest(); err != nil {
			return err
		}
		c.emit(vm.OpPopJumpIfFalse, start)
	}
	if c.peek().is("for") {
		return c.errorf("nested comprehension loops are not supported")
	}
	if err := c.expectLit("]"); err != nil {
		return err
	}
	end := *c.pos

	*c.pos = elem
	if err := c.expr(); err != nil {
		return err
	}
	if *c.pos != forAt {
		return c.expected("'for'")
	}
	c.emit(vm.OpListAppend, 2)
	c.emit(vm.OpJumpAbsolute, start)
	c.patch(exit, c.here())
	*c.pos = end
	return nil
}

func (c *Compiler) dictDisplay() error {
	n := 0
	for !c.peek().is("}") {
		if err := c.expr(); err != nil {
			return err
		}
		if !c.peek().is(":") {
			return c.errorf("set literals are not supported")
		}
		c.next()
		if err := c.expr(); err != nil {
			return err
		}
		n++
		if !c.acceptLit(",") {
			break
		}
	}
	if err := c.expectLit("}"); err != nil {
		return err
	}
	c.emit(vm.OpBuildMap, n)
	return nil
}

// parseInt accepts decimal, 0x, 0o and 0b literals with '_' separators.
func parseInt(lit string) (int64, error) {
	s := strings.ReplaceAll(lit, "_", "")
	base := 10
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 10 {
			s = s[2:]
		}
	}
	if base == 10 && len(s) > 1 && s[0] == '0' && strings.Trim(s, "0") != "" {
		return 0, errors.New("leading zeros in decimal integer literals are not permitted")
	}
	n, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("integer literal %s is too large", lit)
		}
		return 0, fmt.Errorf("invalid integer literal %s", lit)
	}
	return n, nil
}
