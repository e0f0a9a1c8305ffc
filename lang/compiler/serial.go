package compiler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
)

// Binary serialization of a compiled function graph. The layout is a
// small header followed by the top-level function record; function
// records nest recursively through their constant pools, so one read
// reconstructs the entire reachable graph before execution begins.
//
//	magic version byte
//	tool version        length-prefixed string
//	source filename     length-prefixed string
//	source checksum     uint32, FNV-1a of the source bytes
//	function record:
//	  name              length-prefixed string
//	  arity             uint8
//	  upvalue count     uint8
//	  kind              uint8
//	  code              uint32 length + bytes
//	  lines             uint32 count + uint32 per entry
//	  constants         uint8 count, each a tag byte + payload:
//	    0 number        uint64, IEEE-754 bits
//	    1 string        length-prefixed string
//	    2 function      nested function record

// SerialVersion identifies the bytecode format; bump it to force
// recompilation of saved bytecode files.
const SerialVersion byte = 0x27

// ToolVersion is recorded in serialized files for diagnostics.
const ToolVersion = "calamus-0.1"

const (
	tagNumber byte = iota
	tagString
	tagFunction
)

// ErrBadFormat is returned by Deserialize for any malformed input.
var ErrBadFormat = errors.New("malformed bytecode file")

// SourceChecksum returns the FNV-1a checksum recorded in serialized
// files for src.
func SourceChecksum(src []byte) uint32 {
	h := fnv.New32a()
	h.Write(src)
	return h.Sum32()
}

// Serialize encodes the compiled function graph rooted at fn.
func Serialize(fn *Function, srcName string, src []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(SerialVersion)
	writeString(&buf, ToolVersion)
	writeString(&buf, srcName)
	writeUint32(&buf, SourceChecksum(src))
	writeFunc(&buf, fn)
	return buf.Bytes()
}

// Deserialize reconstructs a function graph serialized by Serialize.
// It returns the top-level function along with the recorded source
// filename and checksum.
func Deserialize(b []byte) (fn *Function, srcName string, checksum uint32, err error) {
	r := bytes.NewReader(b)
	version, err := r.ReadByte()
	if err != nil || version != SerialVersion {
		return nil, "", 0, fmt.Errorf("%w: bad version byte", ErrBadFormat)
	}
	if _, err := readString(r); err != nil { // tool version, informational
		return nil, "", 0, err
	}
	if srcName, err = readString(r); err != nil {
		return nil, "", 0, err
	}
	if checksum, err = readUint32(r); err != nil {
		return nil, "", 0, err
	}
	if fn, err = readFunc(r, 0); err != nil {
		return nil, "", 0, err
	}
	return fn, srcName, checksum, nil
}

func writeFunc(buf *bytes.Buffer, fn *Function) {
	writeString(buf, fn.Name)
	buf.WriteByte(byte(fn.Arity))
	buf.WriteByte(byte(fn.UpvalueCount))
	buf.WriteByte(byte(fn.Kind))

	writeUint32(buf, uint32(len(fn.Chunk.Code)))
	buf.Write(fn.Chunk.Code)
	writeUint32(buf, uint32(len(fn.Chunk.Lines)))
	for _, line := range fn.Chunk.Lines {
		writeUint32(buf, uint32(line))
	}

	buf.WriteByte(byte(len(fn.Chunk.Constants)))
	for _, cst := range fn.Chunk.Constants {
		switch cst := cst.(type) {
		case float64:
			buf.WriteByte(tagNumber)
			writeUint64(buf, math.Float64bits(cst))
		case string:
			buf.WriteByte(tagString)
			writeString(buf, cst)
		case *Function:
			buf.WriteByte(tagFunction)
			writeFunc(buf, cst)
		default:
			panic(fmt.Sprintf("unexpected constant %T: %[1]v", cst))
		}
	}
}

// maxFuncDepth bounds recursion when reading untrusted files.
const maxFuncDepth = 100

func readFunc(r *bytes.Reader, depth int) (*Function, error) {
	if depth > maxFuncDepth {
		return nil, fmt.Errorf("%w: function nesting too deep", ErrBadFormat)
	}

	fn := &Function{}
	var err error
	if fn.Name, err = readString(r); err != nil {
		return nil, err
	}
	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: truncated function header", ErrBadFormat)
	}
	fn.Arity, fn.UpvalueCount, fn.Kind = int(hdr[0]), int(hdr[1]), FuncKind(hdr[2])

	codeLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int64(codeLen) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: code length too large", ErrBadFormat)
	}
	fn.Chunk.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(r, fn.Chunk.Code); err != nil {
		return nil, fmt.Errorf("%w: truncated code", ErrBadFormat)
	}

	lineCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if lineCount != codeLen {
		return nil, fmt.Errorf("%w: line table does not match code", ErrBadFormat)
	}
	fn.Chunk.Lines = make([]int, lineCount)
	for i := range fn.Chunk.Lines {
		line, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fn.Chunk.Lines[i] = int(line)
	}

	cstCount, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated constant pool", ErrBadFormat)
	}
	fn.Chunk.Constants = make([]interface{}, 0, cstCount)
	for i := 0; i < int(cstCount); i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated constant", ErrBadFormat)
		}
		switch tag {
		case tagNumber:
			bits, err := readUint64(r)
			if err != nil {
				return nil, err
			}
			fn.Chunk.Constants = append(fn.Chunk.Constants, math.Float64frombits(bits))
		case tagString:
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			fn.Chunk.Constants = append(fn.Chunk.Constants, s)
		case tagFunction:
			sub, err := readFunc(r, depth+1)
			if err != nil {
				return nil, err
			}
			fn.Chunk.Constants = append(fn.Chunk.Constants, sub)
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d", ErrBadFormat, tag)
		}
	}
	return fn, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated value", ErrBadFormat)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated value", ErrBadFormat)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("%w: string length too large", ErrBadFormat)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrBadFormat)
	}
	return string(b), nil
}
