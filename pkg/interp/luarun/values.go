package luarun

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/aixgo-dev/playground/pkg/interp"
)

const (
	maxPrettyDepth   = 6
	maxPrettyEntries = 100
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "goto": true, "if": true, "in": true,
	"local": true, "nil": true, "not": true, "or": true, "repeat": true, "return": true,
	"then": true, "true": true, "until": true, "while": true,
}

// Describe pretty-prints the values returned by a chunk. Several values are
// joined with ", "; no values reads as nil.
func Describe(values ...lua.LValue) interp.Value {
	if len(values) == 0 {
		return interp.Value{Text: "nil", Type: "nil"}
	}
	texts := make([]string, len(values))
	types := make([]string, len(values))
	for i, v := range values {
		texts[i] = Pretty(v)
		types[i] = v.Type().String()
	}
	return interp.Value{Text: strings.Join(texts, ", "), Type: strings.Join(types, ", ")}
}

// Pretty renders a Lua value in Lua constructor syntax where possible.
func Pretty(v lua.LValue) string {
	p := &printer{seen: map[*lua.LTable]bool{}}
	p.value(v, 0)
	return p.b.String()
}

type printer struct {
	b    strings.Builder
	seen map[*lua.LTable]bool
}

func (p *printer) value(v lua.LValue, depth int) {
	switch x := v.(type) {
	case lua.LString:
		p.b.WriteString(strconv.Quote(string(x)))
	case *lua.LTable:
		p.table(x, depth)
	default:
		p.b.WriteString(v.String())
	}
}

type entry struct {
	key, value lua.LValue
}

func (p *printer) table(t *lua.LTable, depth int) {
	if p.seen[t] {
		p.b.WriteString("<cycle>")
		return
	}
	if depth >= maxPrettyDepth {
		p.b.WriteString("{...}")
		return
	}
	p.seen[t] = true
	defer delete(p.seen, t)

	seq := 0
	for t.RawGetInt(seq+1) != lua.LNil {
		seq++
	}

	var rest []entry
	t.ForEach(func(k, v lua.LValue) {
		if n, ok := k.(lua.LNumber); ok && float64(n) == float64(int(n)) && int(n) >= 1 && int(n) <= seq {
			return
		}
		rest = append(rest, entry{k, v})
	})
	sort.Slice(rest, func(i, j int) bool { return keyLess(rest[i].key, rest[j].key) })

	if seq == 0 && len(rest) == 0 {
		p.b.WriteString("{}")
		return
	}

	p.b.WriteString("{")
	written := 0
	sep := func() bool {
		if written == maxPrettyEntries {
			p.b.WriteString(", ...")
			return false
		}
		if written > 0 {
			p.b.WriteString(", ")
		}
		written++
		return true
	}
	for i := 1; i <= seq; i++ {
		if !sep() {
			p.b.WriteString("}")
			return
		}
		p.value(t.RawGetInt(i), depth+1)
	}
	for _, e := range rest {
		if !sep() {
			break
		}
		if s, ok := e.key.(lua.LString); ok && identPattern.MatchString(string(s)) && !keywords[string(s)] {
			p.b.WriteString(string(s))
		} else {
			p.b.WriteString("[")
			p.value(e.key, depth+1)
			p.b.WriteString("]")
		}
		p.b.WriteString(" = ")
		p.value(e.value, depth+1)
	}
	p.b.WriteString("}")
}

// keyLess orders numbers before strings before everything else.
func keyLess(a, b lua.LValue) bool {
	rank := func(v lua.LValue) int {
		switch v.(type) {
		case lua.LNumber:
			return 0
		case lua.LString:
			return 1
		default:
			return 2
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	if na, ok := a.(lua.LNumber); ok {
		return na < b.(lua.LNumber)
	}
	return a.String() < b.String()
}

// toLValue converts a decoded YAML value into a Lua value.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case time.Time:
		return lua.LString(x.Format(time.RFC3339))
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, e := range x {
			t.RawSetInt(i+1, toLValue(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, e := range x {
			t.RawSetString(k, toLValue(L, e))
		}
		return t
	case map[any]any:
		t := L.CreateTable(0, len(x))
		for k, e := range x {
			if key := toLValue(L, k); key != lua.LNil {
				t.RawSet(key, toLValue(L, e))
			}
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}
