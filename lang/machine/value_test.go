package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthiness(t *testing.T) {
	m := New(Config{})
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", Nil, false},
		{"false", False, false},
		{"true", True, true},
		{"zero", NumberValue(0), true},
		{"number", NumberValue(1), true},
		{"empty-string", m.NewString(""), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Truth(c.v))
		})
	}
}

func TestEquality(t *testing.T) {
	m := New(Config{})
	a := m.NewString("a")
	a2 := m.NewString("a")
	b := m.NewString("b")

	assert.True(t, Equal(Nil, Nil))
	assert.True(t, Equal(True, True))
	assert.False(t, Equal(True, False))
	assert.True(t, Equal(NumberValue(1), NumberValue(1)))
	assert.False(t, Equal(NumberValue(1), NumberValue(2)))
	assert.False(t, Equal(NumberValue(0), False), "types must match")
	assert.False(t, Equal(Nil, False))
	assert.True(t, Equal(a, a2), "interned strings compare equal by pointer")
	assert.False(t, Equal(a, b))
}

func TestValueString(t *testing.T) {
	m := New(Config{})
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", Nil, "nil"},
		{"true", True, "true"},
		{"false", False, "false"},
		{"int", NumberValue(3), "3"},
		{"float", NumberValue(2.5), "2.5"},
		{"string", m.NewString("abc"), "abc"},
		{"array", ObjectValue(m.NewArray([]Value{NumberValue(1), Nil})), "[1, nil]"},
		{"table", ObjectValue(m.NewTable()), "<table>"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.v.String())
		})
	}
}

func TestStringify(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, "abc", stringify(m.NewString("abc")))
	assert.Equal(t, "3", stringify(NumberValue(3)))
	assert.Equal(t, "nil", stringify(Nil))
	assert.Equal(t, "true", stringify(True))
	assert.Equal(t, "<object>", stringify(ObjectValue(m.NewTable())))
	assert.Equal(t, "<object>", stringify(ObjectValue(m.NewArray(nil))))
}
