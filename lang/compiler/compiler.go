// Package compiler translates source text into bytecode chunks in a
// single pass: a Pratt parser pulls tokens from the scanner and emits
// instructions as it goes, there is no intermediate AST. The output is a
// top-level *Function whose chunk may reference further compiled
// functions through its constant pool.
package compiler

import (
	"strconv"

	"github.com/dolthub/swiss"
	"github.com/mna/calamus/lang/scanner"
	"github.com/mna/calamus/lang/token"
)

// Limits fixed by the operand encodings: one byte for slots, counts and
// upvalue indices, two bytes for jump offsets.
const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArity    = 255
	maxJump     = 0xFFFF
)

// Compile compiles source text and returns the top-level function, or an
// ErrorList if any compile error occurred. The parser enters panic mode
// on the first error in a statement and discards tokens until a
// statement boundary, so one malformed statement reports one error.
func Compile(src string) (*Function, error) {
	c := &Compiler{}
	c.scan = scanner.New(src)
	c.pushComp(KindScript, "")

	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}
	fn := c.popComp()
	if c.hadError {
		return nil, c.errs.Err()
	}
	return fn, nil
}

// Compiler holds all compilation state explicitly: the pull-scanner, the
// one-token lookahead, the stack of per-function frames and the stack of
// enclosing class declarations. Nothing is global, so compilations can
// run concurrently or reentrantly.
type Compiler struct {
	scan      *scanner.Scanner
	current   scanner.Token
	previous  scanner.Token
	hadError  bool
	panicMode bool
	errs      ErrorList

	comp      *comp      // innermost function being compiled
	currClass *classComp // innermost class declaration, nil outside one

	// lastUpvalues holds the upvalue descriptors of the most recently
	// popped function compiler, consumed by emitClosure.
	lastUpvalues []upvalue
}

// comp is the per-function compiler frame.
type comp struct {
	enclosing *comp
	fn        *Function
	kind      FuncKind

	locals     []local
	upvalues   []upvalue
	scopeDepth int

	// names dedups identifier constants so that repeated references to
	// the same global or property share one pool entry.
	names *swiss.Map[string, int]

	// deferred records the local slots holding defer closures, in
	// declaration order; they are called FIFO at every return point.
	deferred []int
	// condDepth is > 0 while compiling conditionally- or repeatedly-
	// executed statements (branch, loop and case bodies), where a defer
	// slot could not be guaranteed to hold its closure exactly once.
	condDepth int

	loop      *loopComp
	breakable *breakComp
}

type local struct {
	name       string
	depth      int // -1 while declared but not yet initialized
	isCaptured bool
	isDefer    bool
}

type upvalue struct {
	index   uint8
	isLocal bool
}

// loopComp tracks the innermost enclosing loop, target of 'continue'.
type loopComp struct {
	enclosing  *loopComp
	scopeDepth int
}

// breakComp tracks the innermost enclosing loop or switch, target of
// 'break'.
type breakComp struct {
	enclosing  *breakComp
	scopeDepth int
}

type classComp struct {
	enclosing     *classComp
	hasSuperclass bool
}

func (c *Compiler) pushComp(kind FuncKind, name string) {
	fc := &comp{
		enclosing: c.comp,
		fn:        &Function{Name: name, Kind: kind},
		kind:      kind,
		names:     swiss.NewMap[string, int](8),
	}
	// slot 0 holds the closure being called, or the receiver in methods
	// and initializers where it is addressable as 'this'.
	slot0 := local{depth: 0}
	if kind == KindMethod || kind == KindInitializer {
		slot0.name = "this"
	}
	fc.locals = append(fc.locals, slot0)
	c.comp = fc
}

func (c *Compiler) popComp() *Function {
	c.emitReturn()
	fn := c.comp.fn
	fn.UpvalueCount = len(c.comp.upvalues)
	c.lastUpvalues = c.comp.upvalues
	c.comp = c.comp.enclosing
	return fn
}

// ---- parser plumbing ----

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scan.Scan()
		if c.current.Kind != token.ILLEGAL {
			break
		}
		// the lexeme of an ILLEGAL token is the diagnostic message
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(kind token.Token, msg string) {
	if c.current.Kind == kind {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) check(kind token.Token) bool { return c.current.Kind == kind }

func (c *Compiler) match(kind token.Token) bool {
	if !c.check(kind) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) errorAt(tok scanner.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	e := &Error{Line: tok.Line, Msg: msg}
	switch tok.Kind {
	case token.EOF:
		e.Where = " at end"
	case token.ILLEGAL:
		// the lexeme is the diagnostic, not source text
	default:
		e.Where = " at '" + tok.Lexeme + "'"
	}
	c.errs = append(c.errs, e)
}

func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }
func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }

// synchronize discards tokens until a statement boundary to resume
// parsing after an error.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Kind != token.EOF {
		if c.previous.Kind == token.SEMI {
			return
		}
		if c.current.Kind.StartsStatement() {
			return
		}
		c.advance()
	}
}

// ---- emission ----

func (c *Compiler) chunk() *Chunk { return &c.comp.fn.Chunk }

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op Opcode) { c.emitByte(byte(op)) }

func (c *Compiler) emitOps(op1, op2 Opcode) {
	c.emitOp(op1)
	c.emitOp(op2)
}

func (c *Compiler) emitOpByte(op Opcode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitReturn() {
	c.runDefers()
	if c.comp.kind == KindInitializer {
		c.emitOpByte(GET_LOCAL, 0)
	} else {
		c.emitOp(NIL)
	}
	c.emitOp(RETURN)
}

// runDefers emits the calls to the recorded defer closures, first
// declared first.
func (c *Compiler) runDefers() {
	for _, slot := range c.comp.deferred {
		c.emitOpByte(GET_LOCAL, byte(slot))
		c.emitOpByte(CALL, 0)
		c.emitOp(POP)
	}
}

func (c *Compiler) makeConstant(v interface{}) int {
	idx, ok := c.chunk().AddConstant(v)
	if !ok {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *Compiler) emitConstant(v interface{}) {
	c.emitOpByte(CONSTANT, byte(c.makeConstant(v)))
}

// identifierConstant interns name in the constant pool, reusing the
// entry when the same identifier already has one.
func (c *Compiler) identifierConstant(name string) int {
	if idx, ok := c.comp.names.Get(name); ok {
		return idx
	}
	idx := c.makeConstant(name)
	c.comp.names.Put(name, idx)
	return idx
}

// emitJump emits op with a placeholder 0xFFFF operand and returns the
// offset of the operand for patchJump.
func (c *Compiler) emitJump(op Opcode) int {
	c.emitOp(op)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	// -2 to account for the operand itself
	jump := len(c.chunk().Code) - offset - 2
	if jump > maxJump {
		c.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(LOOP)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > maxJump {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// patchExits sweeps the byte range [from, len) rewriting the BREAK and,
// when continueTo >= 0, CONTINUE placeholders emitted for the construct
// that just ended. BREAK becomes a forward JUMP to the current position;
// CONTINUE becomes a backward LOOP to continueTo. Placeholders belonging
// to inner constructs were already rewritten when those ended, so only
// the ones owned by this construct remain in the range.
func (c *Compiler) patchExits(from, continueTo int) {
	ch := c.chunk()
	end := len(ch.Code)
	for ip := from; ip < end; {
		size := ch.OpArgSize(ip)
		switch Opcode(ch.Code[ip]) {
		case BREAK:
			ch.Code[ip] = byte(JUMP)
			jump := end - ip - 3
			if jump > maxJump {
				c.error("Too much code to jump over.")
			}
			ch.Code[ip+1] = byte(jump >> 8)
			ch.Code[ip+2] = byte(jump)
		case CONTINUE:
			if continueTo < 0 {
				break // owned by an enclosing loop
			}
			ch.Code[ip] = byte(LOOP)
			back := ip + 3 - continueTo
			if back > maxJump {
				c.error("Loop body too large.")
			}
			ch.Code[ip+1] = byte(back >> 8)
			ch.Code[ip+2] = byte(back)
		}
		ip += 1 + size
	}
}

// ---- scopes, locals and upvalues ----

func (c *Compiler) beginScope() { c.comp.scopeDepth++ }

// endScope pops the scope's locals: captured ones close their upvalue,
// plain ones pop. A local holding a defer closure must keep its slot
// until the frame returns, so it and anything beneath it in the scope
// are promoted to the enclosing scope instead, with their names cleared
// so they can no longer be resolved.
func (c *Compiler) endScope() {
	fc := c.comp
	fc.scopeDepth--

	i := len(fc.locals) - 1
	for i >= 0 && fc.locals[i].depth > fc.scopeDepth {
		if fc.locals[i].isDefer {
			break
		}
		if fc.locals[i].isCaptured {
			c.emitOp(CLOSE_UPVALUE)
		} else {
			c.emitOp(POP)
		}
		fc.locals = fc.locals[:i]
		i--
	}
	for ; i >= 0 && fc.locals[i].depth > fc.scopeDepth; i-- {
		fc.locals[i].depth = fc.scopeDepth
		if !fc.locals[i].isDefer {
			fc.locals[i].name = ""
		}
	}
}

// popToDepth emits the pops to discard locals deeper than depth without
// mutating compiler state; used by break and continue which jump out of
// their scopes.
func (c *Compiler) popToDepth(depth int) {
	for i := len(c.comp.locals) - 1; i >= 0 && c.comp.locals[i].depth > depth; i-- {
		if c.comp.locals[i].isCaptured {
			c.emitOp(CLOSE_UPVALUE)
		} else {
			c.emitOp(POP)
		}
	}
}

func (c *Compiler) addLocal(name string) {
	if len(c.comp.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.comp.locals = append(c.comp.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.comp.scopeDepth == 0 {
		return // globals are late-bound, nothing to declare
	}
	name := c.previous.Lexeme
	for i := len(c.comp.locals) - 1; i >= 0; i-- {
		l := c.comp.locals[i]
		if l.depth != -1 && l.depth < c.comp.scopeDepth {
			break
		}
		if l.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.comp.scopeDepth == 0 {
		return
	}
	c.comp.locals[len(c.comp.locals)-1].depth = c.comp.scopeDepth
}

func (c *Compiler) parseVariable(msg string) int {
	c.consume(token.IDENT, msg)
	c.declareVariable()
	if c.comp.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Lexeme)
}

func (c *Compiler) defineVariable(nameIdx int) {
	if c.comp.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(DEFINE_GLOBAL, byte(nameIdx))
}

func (c *Compiler) resolveLocal(fc *comp, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *comp, index uint8, isLocal bool) int {
	for i, uv := range fc.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) >= maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalue{index: index, isLocal: isLocal})
	return len(fc.upvalues) - 1
}

// resolveUpvalue walks the enclosing compiler chain: a local found in an
// enclosing function is marked captured and threaded down as an upvalue
// through every function in between.
func (c *Compiler) resolveUpvalue(fc *comp, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if slot := c.resolveLocal(fc.enclosing, name); slot != -1 {
		fc.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fc, uint8(slot), true)
	}
	if idx := c.resolveUpvalue(fc.enclosing, name); idx != -1 {
		return c.addUpvalue(fc, uint8(idx), false)
	}
	return -1
}

// ---- precedence and rules ----

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . () []
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules [token.NumTokens]parseRule

func init() {
	rules[token.LPAREN] = parseRule{(*Compiler).grouping, (*Compiler).call, precCall}
	rules[token.LBRACK] = parseRule{(*Compiler).arrayLiteral, (*Compiler).index, precCall}
	rules[token.DOT] = parseRule{nil, (*Compiler).dot, precCall}
	rules[token.MINUS] = parseRule{(*Compiler).unary, (*Compiler).binary, precTerm}
	rules[token.PLUS] = parseRule{nil, (*Compiler).binary, precTerm}
	rules[token.SLASH] = parseRule{nil, (*Compiler).binary, precFactor}
	rules[token.STAR] = parseRule{nil, (*Compiler).binary, precFactor}
	rules[token.BANG] = parseRule{(*Compiler).unary, nil, precNone}
	rules[token.BANGEQ] = parseRule{nil, (*Compiler).binary, precEquality}
	rules[token.EQEQ] = parseRule{nil, (*Compiler).binary, precEquality}
	rules[token.GT] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.GE] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.LT] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.LE] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.IDENT] = parseRule{(*Compiler).variable, nil, precNone}
	rules[token.NUMBER] = parseRule{(*Compiler).number, nil, precNone}
	rules[token.STRING] = parseRule{(*Compiler).stringLit, nil, precNone}
	rules[token.AND] = parseRule{nil, (*Compiler).and, precAnd}
	rules[token.OR] = parseRule{nil, (*Compiler).or, precOr}
	rules[token.NIL] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.TRUE] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.FALSE] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.THIS] = parseRule{(*Compiler).this, nil, precNone}
	rules[token.SUPER] = parseRule{(*Compiler).super, nil, precNone}
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := rules[c.previous.Kind].prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= rules[c.current.Kind].prec {
		c.advance()
		rules[c.previous.Kind].infix(c, canAssign)
	}

	if canAssign && c.match(token.EQ) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

// ---- expressions ----

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after expression.")
}

func (c *Compiler) number(bool) {
	n, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(n)
}

func (c *Compiler) stringLit(bool) {
	lex := c.previous.Lexeme
	c.emitConstant(lex[1 : len(lex)-1]) // strip the quotes
}

func (c *Compiler) literal(bool) {
	switch c.previous.Kind {
	case token.NIL:
		c.emitOp(NIL)
	case token.TRUE:
		c.emitOp(TRUE)
	case token.FALSE:
		c.emitOp(FALSE)
	}
}

func (c *Compiler) unary(bool) {
	op := c.previous.Kind
	c.parsePrecedence(precUnary)
	switch op {
	case token.MINUS:
		c.emitOp(NEGATE)
	case token.BANG:
		c.emitOp(NOT)
	}
}

func (c *Compiler) binary(bool) {
	op := c.previous.Kind
	c.parsePrecedence(rules[op].prec + 1)
	switch op {
	case token.BANGEQ:
		c.emitOps(EQUAL, NOT)
	case token.EQEQ:
		c.emitOp(EQUAL)
	case token.GT:
		c.emitOp(GREATER)
	case token.GE:
		c.emitOps(LESS, NOT)
	case token.LT:
		c.emitOp(LESS)
	case token.LE:
		c.emitOps(GREATER, NOT)
	case token.PLUS:
		c.emitOp(ADD)
	case token.MINUS:
		c.emitOp(SUB)
	case token.STAR:
		c.emitOp(MUL)
	case token.SLASH:
		c.emitOp(DIV)
	}
}

func (c *Compiler) and(bool) {
	endJump := c.emitJump(JUMP_IF_FALSE)
	c.emitOp(POP)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(JUMP_IF_FALSE)
	endJump := c.emitJump(JUMP)
	c.patchJump(elseJump)
	c.emitOp(POP)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp Opcode
	arg := c.resolveLocal(c.comp, name)
	switch {
	case arg != -1:
		getOp, setOp = GET_LOCAL, SET_LOCAL
	default:
		if arg = c.resolveUpvalue(c.comp, name); arg != -1 {
			getOp, setOp = GET_UPVALUE, SET_UPVALUE
		} else {
			arg = c.identifierConstant(name)
			getOp, setOp = GET_GLOBAL, SET_GLOBAL
		}
	}

	if canAssign && c.match(token.EQ) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func (c *Compiler) call(bool) {
	argc := c.argumentList()
	c.emitOpByte(CALL, argc)
}

func (c *Compiler) argumentList() byte {
	var argc int
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			if argc >= maxArity {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "Expect ')' after arguments.")
	return byte(argc)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(token.IDENT, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous.Lexeme)

	switch {
	case canAssign && c.match(token.EQ):
		c.expression()
		c.emitOpByte(SET_PROPERTY, byte(name))
	case c.match(token.LPAREN):
		// fused property access + call
		argc := c.argumentList()
		c.emitOpByte(INVOKE, byte(name))
		c.emitByte(argc)
	default:
		c.emitOpByte(GET_PROPERTY, byte(name))
	}
}

func (c *Compiler) this(bool) {
	if c.currClass == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(bool) {
	switch {
	case c.currClass == nil:
		c.error("Can't use 'super' outside of a class.")
	case !c.currClass.hasSuperclass:
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(token.DOT, "Expect '.' after 'super'.")
	c.consume(token.IDENT, "Expect superclass method name.")
	name := c.identifierConstant(c.previous.Lexeme)

	c.namedVariable("this", false)
	if c.match(token.LPAREN) {
		argc := c.argumentList()
		c.namedVariable("super", false)
		c.emitOpByte(SUPER_INVOKE, byte(name))
		c.emitByte(argc)
	} else {
		c.namedVariable("super", false)
		c.emitOpByte(GET_SUPER, byte(name))
	}
}

// arrayLiteral compiles [e1, e2, ...]: the empty array is pushed first,
// the elements and their count follow, and ARRAY_PUSH moves them into
// the array preserving source order.
func (c *Compiler) arrayLiteral(bool) {
	c.emitOp(ARRAY_EMPTY)
	var count int
	if !c.check(token.RBRACK) {
		for {
			c.expression()
			count++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RBRACK, "Expect ']' after array elements.")
	if count > 0 {
		c.emitConstant(float64(count))
		c.emitOp(ARRAY_PUSH)
	}
}

// index compiles a[i], a[i] = v, and the slice forms a[i:j], a[i:],
// a[:j], a[:] where a missing bound compiles to nil.
func (c *Compiler) index(canAssign bool) {
	if c.match(token.COLON) {
		c.emitOp(NIL) // no start bound
		c.sliceEnd()
		return
	}

	c.expression()
	if c.match(token.COLON) {
		c.sliceEnd()
		return
	}

	c.consume(token.RBRACK, "Expect ']' after index.")
	if canAssign && c.match(token.EQ) {
		c.expression()
		c.emitOp(SET_INDEX)
	} else {
		c.emitOp(GET_INDEX)
	}
}

func (c *Compiler) sliceEnd() {
	if c.check(token.RBRACK) {
		c.emitOp(NIL) // no end bound
	} else {
		c.expression()
	}
	c.consume(token.RBRACK, "Expect ']' after slice.")
	c.emitOp(ARRAY_RANGE)
}

// ---- declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(token.CLASS):
		c.classDeclaration()
	case c.match(token.FUN):
		c.funDeclaration()
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.PRINT):
		c.printStatement()
	case c.match(token.IF):
		c.ifStatement()
	case c.match(token.WHILE):
		c.whileStatement()
	case c.match(token.FOR):
		c.forStatement()
	case c.match(token.SWITCH):
		c.switchStatement()
	case c.match(token.RETURN):
		c.returnStatement()
	case c.match(token.BREAK):
		c.breakStatement()
	case c.match(token.CONTINUE):
		c.continueStatement()
	case c.match(token.DEFER):
		c.deferStatement()
	case c.match(token.LBRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBRACE, "Expect '}' after block.")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(token.SEMI, "Expect ';' after expression.")
	c.emitOp(POP)
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(token.SEMI, "Expect ';' after value.")
	c.emitOp(PRINT)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.EQ) {
		c.expression()
	} else {
		c.emitOp(NIL)
	}
	c.consume(token.SEMI, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) ifStatement() {
	c.consume(token.LPAREN, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	thenJump := c.emitJump(JUMP_IF_FALSE)
	c.emitOp(POP)
	c.conditional(func() { c.statement() })

	elseJump := c.emitJump(JUMP)
	c.patchJump(thenJump)
	c.emitOp(POP)
	if c.match(token.ELSE) {
		c.conditional(func() { c.statement() })
	}
	c.patchJump(elseJump)
}

// conditional compiles a statement that may execute zero or many times
// at runtime; defer is rejected inside such statements because its slot
// could not be trusted at return time.
func (c *Compiler) conditional(body func()) {
	c.comp.condDepth++
	body()
	c.comp.condDepth--
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(token.LPAREN, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(JUMP_IF_FALSE)
	c.emitOp(POP)

	c.pushLoop()
	bodyStart := len(c.chunk().Code)
	c.conditional(func() { c.statement() })
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(POP)
	c.patchExits(bodyStart, loopStart)
	c.popLoop()
}

// forStatement compiles the C-style for loop. The increment clause is
// emitted before the body with a jump over it, the loop back-edge from
// the body targets the increment, and the increment jumps back to the
// condition: the increment executes after each iteration with a single
// back-edge.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(token.LPAREN, "Expect '(' after 'for'.")
	switch {
	case c.match(token.SEMI):
		// no initializer
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(token.SEMI) {
		c.expression()
		c.consume(token.SEMI, "Expect ';' after loop condition.")
		exitJump = c.emitJump(JUMP_IF_FALSE)
		c.emitOp(POP)
	}

	if !c.match(token.RPAREN) {
		bodyJump := c.emitJump(JUMP)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(POP)
		c.consume(token.RPAREN, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.pushLoop()
	bodyStart := len(c.chunk().Code)
	c.conditional(func() { c.statement() })
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(POP)
	}
	c.patchExits(bodyStart, loopStart)
	c.popLoop()
	c.endScope()
}

func (c *Compiler) pushLoop() {
	c.comp.loop = &loopComp{enclosing: c.comp.loop, scopeDepth: c.comp.scopeDepth}
	c.comp.breakable = &breakComp{enclosing: c.comp.breakable, scopeDepth: c.comp.scopeDepth}
}

func (c *Compiler) popLoop() {
	c.comp.loop = c.comp.loop.enclosing
	c.comp.breakable = c.comp.breakable.enclosing
}

func (c *Compiler) breakStatement() {
	if c.comp.breakable == nil {
		c.error("Can't use 'break' outside of a loop or switch.")
		c.consume(token.SEMI, "Expect ';' after 'break'.")
		return
	}
	c.consume(token.SEMI, "Expect ';' after 'break'.")
	c.popToDepth(c.comp.breakable.scopeDepth)
	c.emitJump(BREAK)
}

func (c *Compiler) continueStatement() {
	if c.comp.loop == nil {
		c.error("Can't use 'continue' outside of a loop.")
		c.consume(token.SEMI, "Expect ';' after 'continue'.")
		return
	}
	c.consume(token.SEMI, "Expect ';' after 'continue'.")
	c.popToDepth(c.comp.loop.scopeDepth)
	c.emitJump(CONTINUE)
}

// switchStatement evaluates the scrutinee once into a synthetic local,
// then compiles each case as an equality test with a jump-if-false to
// the next test. Case bodies end in a BREAK placeholder; an empty case
// body records a CASE_FALLTHROUGH placeholder patched to jump into the
// next case's body when it arrives. default, if present, must be last.
func (c *Compiler) switchStatement() {
	c.consume(token.LPAREN, "Expect '(' after 'switch'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after switch value.")
	c.consume(token.LBRACE, "Expect '{' before switch cases.")

	c.beginScope()
	c.addLocal("") // scrutinee, unresolvable by name
	c.markInitialized()
	scrutSlot := len(c.comp.locals) - 1

	c.comp.breakable = &breakComp{enclosing: c.comp.breakable, scopeDepth: c.comp.scopeDepth}
	regionStart := len(c.chunk().Code)

	missJump := -1    // pending jump-if-false of the previous case test
	pendingFall := -1 // unpatched CASE_FALLTHROUGH placeholder
	seenDefault := false
	seenCase := false

	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		switch {
		case c.match(token.CASE):
			if seenDefault {
				c.error("'default' must be the last switch case.")
			}
			seenCase = true

			if missJump != -1 {
				// previous test failed: land here, discard the bool
				c.patchJump(missJump)
				c.emitOp(POP)
			}
			c.emitOpByte(GET_LOCAL, byte(scrutSlot))
			c.expression()
			c.consume(token.COLON, "Expect ':' after case value.")
			c.emitOp(EQUAL)
			missJump = c.emitJump(JUMP_IF_FALSE)
			c.emitOp(POP)

			// the case body starts here; resolve a pending fallthrough
			if pendingFall != -1 {
				ch := c.chunk()
				ch.Code[pendingFall] = byte(JUMP)
				c.patchJump(pendingFall + 1)
				pendingFall = -1
			}

			if c.check(token.CASE) || c.check(token.DEFAULT) {
				// empty body: fall through to the next case's body
				pendingFall = len(c.chunk().Code)
				c.emitJump(CASE_FALLTHROUGH)
				continue
			}
			if c.check(token.RBRACE) {
				c.error("A fallthrough case must be followed by a case body.")
				continue
			}
			c.caseBody()
			c.emitJump(BREAK)

		case c.match(token.DEFAULT):
			if seenDefault {
				c.error("Can't have more than one 'default' case.")
			}
			seenDefault = true
			c.consume(token.COLON, "Expect ':' after 'default'.")

			if missJump != -1 {
				// all case tests failed: land in the default body
				c.patchJump(missJump)
				c.emitOp(POP)
				missJump = -1
			}
			if pendingFall != -1 {
				ch := c.chunk()
				ch.Code[pendingFall] = byte(JUMP)
				c.patchJump(pendingFall + 1)
				pendingFall = -1
			}
			c.caseBody()

		default:
			c.errorAtCurrent("Expect 'case' or 'default' in switch body.")
			c.advance()
		}
	}
	c.consume(token.RBRACE, "Expect '}' after switch cases.")
	if !seenCase && !seenDefault {
		c.error("Switch must have at least one case.")
	}
	if pendingFall != -1 {
		c.error("A fallthrough case must be followed by a case body.")
	}

	if missJump != -1 {
		// no default: the last failing test lands here
		c.patchJump(missJump)
		c.emitOp(POP)
	}
	c.patchExits(regionStart, -1)
	c.comp.breakable = c.comp.breakable.enclosing

	c.endScope() // pops the scrutinee
}

func (c *Compiler) caseBody() {
	c.beginScope()
	c.conditional(func() {
		for !c.check(token.CASE) && !c.check(token.DEFAULT) &&
			!c.check(token.RBRACE) && !c.check(token.EOF) {
			c.declaration()
		}
	})
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.comp.kind == KindScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(token.SEMI) {
		c.emitReturn()
		return
	}
	if c.comp.kind == KindInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(token.SEMI, "Expect ';' after return value.")
	c.runDefers()
	c.emitOp(RETURN)
}

// deferStatement compiles the braced body as a zero-arity function of
// kind defer, stores the closure in a synthetic local and records the
// slot so every return point calls it. The slot must hold the closure
// exactly once at return, so defer is only allowed where execution is
// unconditional: directly in the function body or in plain nested
// blocks, not under a branch, loop or switch case.
func (c *Compiler) deferStatement() {
	if c.comp.condDepth > 0 {
		c.error("Can't use 'defer' in a conditional or loop body.")
	}
	if len(c.comp.locals) >= maxLocals {
		c.error("Too many local variables in function.")
	}

	c.pushComp(KindDefer, "defer")
	c.beginScope()
	c.consume(token.LBRACE, "Expect '{' after 'defer'.")
	c.block()
	fn := c.popComp()
	c.emitClosure(fn)

	// the closure on the stack becomes a synthetic local; the name is a
	// keyword so no identifier can ever resolve to it
	fc := c.comp
	fc.locals = append(fc.locals, local{
		name:    "defer",
		depth:   fc.scopeDepth,
		isDefer: true,
	})
	fc.deferred = append(fc.deferred, len(fc.locals)-1)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized() // a function may refer to itself recursively
	c.function(KindFunction)
	c.defineVariable(global)
}

func (c *Compiler) function(kind FuncKind) {
	name := c.previous.Lexeme
	c.pushComp(kind, name)
	c.beginScope()

	c.consume(token.LPAREN, "Expect '(' after function name.")
	if !c.check(token.RPAREN) {
		for {
			if c.comp.fn.Arity >= maxArity {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			c.comp.fn.Arity++
			idx := c.parseVariable("Expect parameter name.")
			c.defineVariable(idx)
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "Expect ')' after parameters.")
	c.consume(token.LBRACE, "Expect '{' before function body.")
	c.block()

	fn := c.popComp()
	c.emitClosure(fn)
}

// emitClosure emits the CLOSURE instruction for fn with the upvalue
// descriptor pairs collected while fn was the current compiler frame,
// saved by popComp.
func (c *Compiler) emitClosure(fn *Function) {
	c.emitOpByte(CLOSURE, byte(c.makeConstant(fn)))
	for _, uv := range c.lastUpvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(token.IDENT, "Expect class name.")
	className := c.previous.Lexeme
	nameIdx := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(CLASS, byte(nameIdx))
	c.defineVariable(nameIdx)

	cc := &classComp{enclosing: c.currClass}
	c.currClass = cc

	if c.match(token.LT) {
		c.consume(token.IDENT, "Expect superclass name.")
		c.variable(false)
		if className == c.previous.Lexeme {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(INHERIT)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(token.LBRACE, "Expect '{' before class body.")
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.method()
	}
	c.consume(token.RBRACE, "Expect '}' after class body.")
	c.emitOp(POP) // the class pushed for method binding

	if cc.hasSuperclass {
		c.endScope()
	}
	c.currClass = cc.enclosing
}

func (c *Compiler) method() {
	c.consume(token.IDENT, "Expect method name.")
	name := c.previous.Lexeme
	nameIdx := c.identifierConstant(name)

	kind := KindMethod
	if name == "init" {
		kind = KindInitializer
	}
	c.function(kind)
	c.emitOpByte(METHOD, byte(nameIdx))
}
