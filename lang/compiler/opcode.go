package compiler

import "fmt"

// Opcode is the type of the bytecode instructions.
type Opcode uint8

// "x ADD y" style comments are stack pictures describing the state of the
// operand stack before and after execution of the instruction.
//
// OP<index> indicates an immediate operand that is an index into the
// specified table: locals, upvalues, constants. OP<off> is a 2-byte
// big-endian code offset.
const ( //nolint:revive
	CONSTANT Opcode = iota //        - CONSTANT<constant> value

	NIL   //   - NIL   nil
	TRUE  //   - TRUE  true
	FALSE //   - FALSE false
	POP   //   x POP   -

	GET_LOCAL     //     - GET_LOCAL<local>        value
	SET_LOCAL     // value SET_LOCAL<local>        value
	GET_GLOBAL    //     - GET_GLOBAL<name>        value
	DEFINE_GLOBAL // value DEFINE_GLOBAL<name>     -
	SET_GLOBAL    // value SET_GLOBAL<name>        value
	GET_UPVALUE   //     - GET_UPVALUE<upvalue>    value
	SET_UPVALUE   // value SET_UPVALUE<upvalue>    value
	GET_PROPERTY  //  inst GET_PROPERTY<name>      value
	SET_PROPERTY  // inst value SET_PROPERTY<name> value
	GET_SUPER     // inst super GET_SUPER<name>    bound

	GET_INDEX //   obj key GET_INDEX       value
	SET_INDEX // o k value SET_INDEX       value

	EQUAL   // x y EQUAL   bool
	GREATER // x y GREATER bool
	LESS    // x y LESS    bool
	ADD     // x y ADD     x+y    numeric add or string concatenation
	SUB     // x y SUB     x-y
	MUL     // x y MUL     x*y
	DIV     // x y DIV     x/y
	NOT     //   x NOT     !x
	NEGATE  //   x NEGATE  -x

	PRINT // x PRINT -

	JUMP          //    - JUMP<off>          -
	JUMP_IF_FALSE // cond JUMP_IF_FALSE<off> cond
	LOOP          //    - LOOP<off>          -      backward jump

	CALL         // fn a1..an CALL<argc>                 result
	INVOKE       // inst a1..an INVOKE<name><argc>       result
	SUPER_INVOKE // inst a1..an super SUPER_INVOKE<name><argc> result

	// CLOSURE's operand length is variable: the function constant index,
	// then two bytes {is_local, index} per upvalue of that function.
	CLOSURE       //     - CLOSURE<fn>{is_local index}* closure
	CLOSE_UPVALUE // value CLOSE_UPVALUE -
	RETURN        // value RETURN        -

	CLASS   //            - CLASS<name>  class
	INHERIT // super class INHERIT       super
	METHOD  // class method METHOD<name> class

	ARRAY_EMPTY // -                ARRAY_EMPTY array
	ARRAY_PUSH  // arr v1..vn count ARRAY_PUSH  arr
	ARRAY_RANGE // arr start end    ARRAY_RANGE slice

	// Compile-time placeholders. The compiler rewrites every one of them
	// to a JUMP or LOOP before the chunk is executed; any of them reaching
	// the dispatch loop is a compiler bug.
	BREAK            // - BREAK<off>            -
	CONTINUE         // - CONTINUE<off>         -
	CASE_FALLTHROUGH // - CASE_FALLTHROUGH<off> -

	opcodeMax = CASE_FALLTHROUGH
)

func (op Opcode) String() string {
	if op > opcodeMax {
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
	return opcodeNames[op]
}

var opcodeNames = [...]string{
	ADD:              "ADD",
	ARRAY_EMPTY:      "ARRAY_EMPTY",
	ARRAY_PUSH:       "ARRAY_PUSH",
	ARRAY_RANGE:      "ARRAY_RANGE",
	BREAK:            "BREAK",
	CALL:             "CALL",
	CASE_FALLTHROUGH: "CASE_FALLTHROUGH",
	CLASS:            "CLASS",
	CLOSE_UPVALUE:    "CLOSE_UPVALUE",
	CLOSURE:          "CLOSURE",
	CONSTANT:         "CONSTANT",
	CONTINUE:         "CONTINUE",
	DEFINE_GLOBAL:    "DEFINE_GLOBAL",
	DIV:              "DIV",
	EQUAL:            "EQUAL",
	FALSE:            "FALSE",
	GET_GLOBAL:       "GET_GLOBAL",
	GET_INDEX:        "GET_INDEX",
	GET_LOCAL:        "GET_LOCAL",
	GET_PROPERTY:     "GET_PROPERTY",
	GET_SUPER:        "GET_SUPER",
	GET_UPVALUE:      "GET_UPVALUE",
	GREATER:          "GREATER",
	INHERIT:          "INHERIT",
	INVOKE:           "INVOKE",
	JUMP:             "JUMP",
	JUMP_IF_FALSE:    "JUMP_IF_FALSE",
	LESS:             "LESS",
	LOOP:             "LOOP",
	MUL:              "MUL",
	NEGATE:           "NEGATE",
	NIL:              "NIL",
	NOT:              "NOT",
	POP:              "POP",
	PRINT:            "PRINT",
	RETURN:           "RETURN",
	SET_GLOBAL:       "SET_GLOBAL",
	SET_INDEX:        "SET_INDEX",
	SET_LOCAL:        "SET_LOCAL",
	SET_PROPERTY:     "SET_PROPERTY",
	SET_UPVALUE:      "SET_UPVALUE",
	SUB:              "SUB",
	SUPER_INVOKE:     "SUPER_INVOKE",
	TRUE:             "TRUE",
}

// fixedArgSize is the number of operand bytes for each opcode, except
// CLOSURE whose operand length depends on the function constant it
// references (see Chunk.OpArgSize).
var fixedArgSize = [...]int{
	ADD:              0,
	ARRAY_EMPTY:      0,
	ARRAY_PUSH:       0,
	ARRAY_RANGE:      0,
	BREAK:            2,
	CALL:             1,
	CASE_FALLTHROUGH: 2,
	CLASS:            1,
	CLOSE_UPVALUE:    0,
	CLOSURE:          -1, // variable
	CONSTANT:         1,
	CONTINUE:         2,
	DEFINE_GLOBAL:    1,
	DIV:              0,
	EQUAL:            0,
	FALSE:            0,
	GET_GLOBAL:       1,
	GET_INDEX:        0,
	GET_LOCAL:        1,
	GET_PROPERTY:     1,
	GET_SUPER:        1,
	GET_UPVALUE:      1,
	GREATER:          0,
	INHERIT:          0,
	INVOKE:           2,
	JUMP:             2,
	JUMP_IF_FALSE:    2,
	LESS:             0,
	LOOP:             2,
	MUL:              0,
	NEGATE:           0,
	NIL:              0,
	NOT:              0,
	POP:              0,
	PRINT:            0,
	RETURN:           0,
	SET_GLOBAL:       1,
	SET_INDEX:        0,
	SET_LOCAL:        1,
	SET_PROPERTY:     1,
	SET_UPVALUE:      1,
	SUB:              0,
	SUPER_INVOKE:     2,
	TRUE:             0,
}
