package compiler

import (
	"fmt"
	"strings"
)

// Disassemble renders the function's chunk in a human-readable listing,
// recursing into the function constants so the whole compiled graph of a
// top-level function prints in one call.
func Disassemble(fn *Function) string {
	var sb strings.Builder
	disasmFunc(&sb, fn)
	return sb.String()
}

func disasmFunc(sb *strings.Builder, fn *Function) {
	name := fn.Name
	if name == "" {
		name = "<script>"
	}
	fmt.Fprintf(sb, "== %s ==\n", name)

	ch := &fn.Chunk
	for ip := 0; ip < len(ch.Code); {
		ip = disasmInstr(sb, ch, ip)
	}

	for _, cst := range ch.Constants {
		if sub, ok := cst.(*Function); ok {
			sb.WriteByte('\n')
			disasmFunc(sb, sub)
		}
	}
}

func disasmInstr(sb *strings.Builder, ch *Chunk, ip int) int {
	fmt.Fprintf(sb, "%04d ", ip)
	if ip > 0 && ch.Lines[ip] == ch.Lines[ip-1] {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(sb, "%4d ", ch.Lines[ip])
	}

	op := Opcode(ch.Code[ip])
	switch op {
	case CONSTANT, DEFINE_GLOBAL, GET_GLOBAL, SET_GLOBAL,
		GET_PROPERTY, SET_PROPERTY, GET_SUPER, CLASS, METHOD:
		idx := ch.Code[ip+1]
		fmt.Fprintf(sb, "%-16s %4d %s\n", op, idx, constString(ch.Constants[idx]))
		return ip + 2

	case GET_LOCAL, SET_LOCAL, GET_UPVALUE, SET_UPVALUE, CALL:
		fmt.Fprintf(sb, "%-16s %4d\n", op, ch.Code[ip+1])
		return ip + 2

	case INVOKE, SUPER_INVOKE:
		idx, argc := ch.Code[ip+1], ch.Code[ip+2]
		fmt.Fprintf(sb, "%-16s (%d args) %4d %s\n", op, argc, idx, constString(ch.Constants[idx]))
		return ip + 3

	case JUMP, JUMP_IF_FALSE, BREAK, CONTINUE, CASE_FALLTHROUGH:
		off := int(ch.Code[ip+1])<<8 | int(ch.Code[ip+2])
		fmt.Fprintf(sb, "%-16s %4d -> %d\n", op, ip, ip+3+off)
		return ip + 3

	case LOOP:
		off := int(ch.Code[ip+1])<<8 | int(ch.Code[ip+2])
		fmt.Fprintf(sb, "%-16s %4d -> %d\n", op, ip, ip+3-off)
		return ip + 3

	case CLOSURE:
		idx := ch.Code[ip+1]
		fn := ch.Constants[idx].(*Function)
		fmt.Fprintf(sb, "%-16s %4d %s\n", op, idx, constString(fn))
		at := ip + 2
		for i := 0; i < fn.UpvalueCount; i++ {
			kind := "upvalue"
			if ch.Code[at] == 1 {
				kind = "local"
			}
			fmt.Fprintf(sb, "%04d      |                     %s %d\n", at, kind, ch.Code[at+1])
			at += 2
		}
		return at

	default:
		fmt.Fprintf(sb, "%s\n", op)
		return ip + 1
	}
}

func constString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case *Function:
		if v.Name == "" {
			return "<fn script>"
		}
		return "<fn " + v.Name + ">"
	}
	return fmt.Sprintf("%v", v)
}
