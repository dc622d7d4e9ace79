// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package arg_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oatmeal-protocol/oatmeal/arg"
)

// mustFailAll asserts that every parse operation fails and the payload
// cannot be finished. This is the state after a syntax error: nothing is
// valid from there on.
func mustFailAll(t *testing.T, p *arg.Parser) {
	t.Helper()
	var buf [128]byte
	if p.Sep() {
		t.Error("Sep: unexpected success")
	}
	if p.ListStart() {
		t.Error("ListStart: unexpected success")
	}
	if p.ListEnd() {
		t.Error("ListEnd: unexpected success")
	}
	if p.DictStart() {
		t.Error("DictStart: unexpected success")
	}
	if p.DictEnd() {
		t.Error("DictEnd: unexpected success")
	}
	if _, ok := p.DictKey(buf[:]); ok {
		t.Error("DictKey: unexpected success")
	}
	for _, bits := range []int{8, 16, 32, 64} {
		if _, ok := p.Int(bits); ok {
			t.Errorf("Int(%d): unexpected success", bits)
		}
		if _, ok := p.Uint(bits); ok {
			t.Errorf("Uint(%d): unexpected success", bits)
		}
	}
	for _, bits := range []int{32, 64} {
		if _, ok := p.Float(bits); ok {
			t.Errorf("Float(%d): unexpected success", bits)
		}
	}
	if _, ok := p.Bool(); ok {
		t.Error("Bool: unexpected success")
	}
	if _, ok := p.String(buf[:]); ok {
		t.Error("String: unexpected success")
	}
	if _, ok := p.Bytes(buf[:]); ok {
		t.Error("Bytes: unexpected success")
	}
	if p.Null() {
		t.Error("Null: unexpected success")
	}
	if p.Finished() {
		t.Error("Finished: unexpectedly true")
	}
}

func TestMixedArgs(t *testing.T) {
	p := arg.NewParser([]byte(`12,[1,2,3],"hello",[T,F],1.23,12.3`))

	num, ok := p.Int(32)
	if !ok || num != 12 {
		t.Fatalf("Int: got (%d, %v)", num, ok)
	}

	var nums [5]int64
	n, ok := p.IntList(nums[:], 32)
	if !ok || n != 3 {
		t.Fatalf("IntList: got (%d, %v)", n, ok)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, nums[:n]); diff != "" {
		t.Errorf("IntList (-want, +got):\n%s", diff)
	}

	var str [10]byte
	sn, ok := p.String(str[:])
	if !ok || string(str[:sn]) != "hello" {
		t.Fatalf("String: got (%q, %v)", str[:sn], ok)
	}

	var bools [2]bool
	bn, ok := p.BoolList(bools[:])
	if !ok || bn != 2 || !bools[0] || bools[1] {
		t.Fatalf("BoolList: got (%v, %d, %v)", bools, bn, ok)
	}

	f32, ok := p.Float(32)
	if !ok || float32(f32) != 1.23 {
		t.Fatalf("Float(32): got (%v, %v)", f32, ok)
	}
	f64, ok := p.Float(64)
	if !ok || f64 != 12.3 {
		t.Fatalf("Float(64): got (%v, %v)", f64, ok)
	}

	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}
}

func TestListOfStrings(t *testing.T) {
	p := arg.NewParser([]byte(`["hi","bye"],"hello",0123`))
	if p.Finished() {
		t.Fatal("Finished on unconsumed payload")
	}

	var strs [2]string
	n, ok := p.StringList(strs[:])
	if !ok || n != 2 {
		t.Fatalf("StringList: got (%d, %v)", n, ok)
	}
	if diff := cmp.Diff([]string{"hi", "bye"}, strs[:n]); diff != "" {
		t.Errorf("StringList (-want, +got):\n%s", diff)
	}

	var str [10]byte
	sn, ok := p.String(str[:])
	if !ok || string(str[:sn]) != "hello" {
		t.Fatalf("String: got (%q, %v)", str[:sn], ok)
	}

	v, ok := p.Uint(8)
	if !ok || v != 123 {
		t.Fatalf("Uint: got (%d, %v)", v, ok)
	}
	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}
}

func TestNestedLists(t *testing.T) {
	p := arg.NewParser([]byte(`["hi",[-1,1.2]],1,[],2,[],"asdf"`))

	var str [10]byte
	var lst [2]int64

	if !p.ListStart() {
		t.Fatal("ListStart failed")
	}
	if n, ok := p.String(str[:]); !ok || string(str[:n]) != "hi" {
		t.Fatalf("String: got %q", str[:n])
	}
	if !p.ListStart() {
		t.Fatal("inner ListStart failed")
	}
	if v, ok := p.Int(8); !ok || v != -1 {
		t.Fatalf("Int: got %d", v)
	}
	if v, ok := p.Float(32); !ok || float32(v) != 1.2 {
		t.Fatalf("Float: got %v", v)
	}
	if p.Sep() {
		t.Error("Sep before ] should fail")
	}
	if !p.ListEnd() {
		t.Fatal("inner ListEnd failed")
	}
	if p.Sep() {
		t.Error("Sep before outer ] should fail")
	}
	if !p.ListEnd() {
		t.Fatal("outer ListEnd failed")
	}
	if v, ok := p.Int(8); !ok || v != 1 {
		t.Fatalf("Int: got %d", v)
	}
	if n, ok := p.IntList(lst[:], 8); !ok || n != 0 {
		t.Fatalf("empty IntList: got (%d, %v)", n, ok)
	}
	if p.Finished() {
		t.Error("Finished too early")
	}
	if v, ok := p.Int(8); !ok || v != 2 {
		t.Fatalf("Int: got %d", v)
	}
	if !p.ListStart() || !p.ListEnd() {
		t.Fatal("empty [] failed")
	}
	if n, ok := p.String(str[:]); !ok || string(str[:n]) != "asdf" {
		t.Fatalf("String: got %q", str[:n])
	}
	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}
}

func TestExplicitSeparators(t *testing.T) {
	// The same payload parses with and without explicit separator calls.
	const payload = "1,[2,3]"

	p := arg.NewParser([]byte(payload))
	if v, ok := p.Uint(32); !ok || v != 1 {
		t.Fatal("Uint(1) failed")
	}
	if !p.ListStart() {
		t.Fatal("ListStart failed")
	}
	if v, ok := p.Uint(32); !ok || v != 2 {
		t.Fatal("Uint(2) failed")
	}
	if v, ok := p.Uint(32); !ok || v != 3 {
		t.Fatal("Uint(3) failed")
	}
	if !p.ListEnd() || !p.Finished() {
		t.Fatal("ListEnd/Finished failed")
	}

	p.Init([]byte(payload))
	if v, ok := p.Uint(32); !ok || v != 1 {
		t.Fatal("Uint(1) failed")
	}
	if !p.Sep() {
		t.Fatal("Sep failed")
	}
	if !p.ListStart() {
		t.Fatal("ListStart failed")
	}
	if v, ok := p.Uint(32); !ok || v != 2 {
		t.Fatal("Uint(2) failed")
	}
	if !p.Sep() {
		t.Fatal("Sep failed")
	}
	if v, ok := p.Uint(32); !ok || v != 3 {
		t.Fatal("Uint(3) failed")
	}
	if !p.ListEnd() || !p.Finished() {
		t.Fatal("ListEnd/Finished failed")
	}
}

func TestParseNone(t *testing.T) {
	p := arg.NewParser([]byte("N"))
	if !p.Null() || !p.Finished() {
		t.Error("single N failed")
	}

	p.Init([]byte("N,N"))
	if !p.Null() || !p.Null() || !p.Finished() {
		t.Error("N,N failed")
	}

	p.Init([]byte("12345,N,[],0"))
	if v, ok := p.Uint(32); !ok || v != 12345 {
		t.Fatal("Uint failed")
	}
	if !p.Null() {
		t.Fatal("Null failed")
	}
	if !p.ListStart() || !p.ListEnd() {
		t.Fatal("[] failed")
	}
	if v, ok := p.Uint(8); !ok || v != 0 {
		t.Fatal("Uint(0) failed")
	}
	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}
}

func TestParseFailures(t *testing.T) {
	t.Run("CloseOnly", func(t *testing.T) {
		mustFailAll(t, arg.NewParser([]byte("]")))
	})
	t.Run("OpenOnly", func(t *testing.T) {
		p := arg.NewParser([]byte("["))
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		mustFailAll(t, p)
	})
	t.Run("LeadingSepInList", func(t *testing.T) {
		p := arg.NewParser([]byte("[,]"))
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		mustFailAll(t, p)
	})
	t.Run("TrailingSep", func(t *testing.T) {
		p := arg.NewParser([]byte("1,"))
		if v, ok := p.Int(8); !ok || v != 1 {
			t.Fatal("Int failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		mustFailAll(t, p)
	})
	t.Run("LeadingSepBeforeValue", func(t *testing.T) {
		p := arg.NewParser([]byte("[,2]"))
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		mustFailAll(t, p)
	})
	t.Run("TrailingSepInList", func(t *testing.T) {
		p := arg.NewParser([]byte("[4,5,]"))
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		if v, ok := p.Int(8); !ok || v != 4 {
			t.Fatal("Int(4) failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		if v, ok := p.Int(8); !ok || v != 5 {
			t.Fatal("Int(5) failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		mustFailAll(t, p)
	})
	t.Run("ExtraClose", func(t *testing.T) {
		p := arg.NewParser([]byte("[1,2]]"))
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if !p.ListEnd() {
			t.Fatal("ListEnd failed")
		}
		mustFailAll(t, p)
	})
	t.Run("DoubleSep", func(t *testing.T) {
		p := arg.NewParser([]byte("1,,3"))
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		mustFailAll(t, p)
	})
	t.Run("MissingSepAfterList", func(t *testing.T) {
		p := arg.NewParser([]byte("[1]3"))
		if _, ok := p.Int(8); ok {
			t.Fatal("Int should fail at '['")
		}
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		if v, ok := p.Int(8); !ok || v != 1 {
			t.Fatal("Int failed")
		}
		if p.Sep() {
			t.Fatal("Sep should fail before ]")
		}
		if !p.ListEnd() {
			t.Fatal("ListEnd failed")
		}
		mustFailAll(t, p)
	})
	t.Run("AdjacentLists", func(t *testing.T) {
		p := arg.NewParser([]byte("[52][61]"))
		var lst [4]int64
		if _, ok := p.IntList(lst[:0], 8); ok {
			t.Fatal("IntList with zero capacity should fail")
		}
		if n, ok := p.IntList(lst[:], 8); !ok || n != 1 || lst[0] != 52 {
			t.Fatalf("IntList: got (%d, %v) %v", n, ok, lst)
		}
		mustFailAll(t, p)
	})
	t.Run("LeadingSep", func(t *testing.T) {
		mustFailAll(t, arg.NewParser([]byte(",]")))
	})
	t.Run("ExtraCloseAfterEmptyList", func(t *testing.T) {
		p := arg.NewParser([]byte("[]]"))
		var lst [4]int64
		if n, ok := p.IntList(lst[:], 8); !ok || n != 0 {
			t.Fatal("empty IntList failed")
		}
		mustFailAll(t, p)
	})
	t.Run("SepOnly", func(t *testing.T) {
		mustFailAll(t, arg.NewParser([]byte(",")))
	})
	t.Run("ListTooLong", func(t *testing.T) {
		p := arg.NewParser([]byte("[1,2,3,4]"))
		var small [3]int64
		if _, ok := p.IntList(small[:], 8); ok {
			t.Fatal("IntList into a short slice should fail")
		}
		var lst [4]int64
		n, ok := p.IntList(lst[:], 8)
		if !ok || n != 4 {
			t.Fatalf("IntList retry: got (%d, %v)", n, ok)
		}
		if diff := cmp.Diff([]int64{1, 2, 3, 4}, lst[:n]); diff != "" {
			t.Errorf("IntList (-want, +got):\n%s", diff)
		}
		if !p.Finished() {
			t.Error("Finished: got false, want true")
		}
	})
}

func TestDictFailures(t *testing.T) {
	var key [16]byte

	t.Run("OpenOnly", func(t *testing.T) {
		p := arg.NewParser([]byte("{"))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		mustFailAll(t, p)
	})
	t.Run("CloseOnly", func(t *testing.T) {
		mustFailAll(t, arg.NewParser([]byte("}")))
	})
	t.Run("BareValue", func(t *testing.T) {
		p := arg.NewParser([]byte("{123}"))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		if _, ok := p.DictKey(key[:]); ok {
			t.Error("DictKey should fail on 123}")
		}
		// The parser does not know it is inside a dict, so 123 parses as a
		// value; the content is still unfinishable.
		if p.DictEnd() {
			t.Error("DictEnd should fail")
		}
		if p.Finished() {
			t.Error("Finished should be false")
		}
	})
	t.Run("MixedPair", func(t *testing.T) {
		p := arg.NewParser([]byte("{a=1,1}"))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		if _, ok := p.DictKey(key[:]); !ok {
			t.Fatal("DictKey failed")
		}
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if _, ok := p.DictKey(key[:]); ok {
			t.Error("DictKey should fail on 1}")
		}
		if p.DictEnd() {
			t.Error("DictEnd should fail")
		}
		if p.Finished() {
			t.Error("Finished should be false")
		}
	})
	t.Run("TrailingSep", func(t *testing.T) {
		p := arg.NewParser([]byte("{a=1,b=2,}"))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		if _, ok := p.DictKey(key[:]); !ok {
			t.Fatal("DictKey a failed")
		}
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if _, ok := p.DictKey(key[:]); !ok {
			t.Fatal("DictKey b failed")
		}
		if _, ok := p.Int(8); !ok {
			t.Fatal("Int failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		mustFailAll(t, p)
	})
	t.Run("EmptyDictThenSep", func(t *testing.T) {
		p := arg.NewParser([]byte("{},"))
		if !p.DictStart() || !p.DictEnd() {
			t.Fatal("{} failed")
		}
		if !p.Sep() {
			t.Fatal("Sep failed")
		}
		mustFailAll(t, p)
	})
	t.Run("LeadingSepInDict", func(t *testing.T) {
		p := arg.NewParser([]byte("{,a=1}"))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		mustFailAll(t, p)
	})
	t.Run("LeadingSepBeforeDict", func(t *testing.T) {
		mustFailAll(t, arg.NewParser([]byte(",{a=1}")))
	})
	t.Run("QuotedKey", func(t *testing.T) {
		p := arg.NewParser([]byte(`{"a"=1}`))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		if _, ok := p.DictKey(key[:]); ok {
			t.Error("quoted DictKey should fail")
		}
		if p.DictEnd() {
			t.Error("DictEnd should fail")
		}
		if p.Finished() {
			t.Error("Finished should be false")
		}
	})
}

func TestParseDicts(t *testing.T) {
	var key [32]byte
	var str [32]byte

	t.Run("Nested", func(t *testing.T) {
		p := arg.NewParser([]byte(`"",{a={b={}},c={}},[]`))
		if n, ok := p.String(str[:]); !ok || n != 0 {
			t.Fatal("empty String failed")
		}
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		if n, ok := p.DictKey(key[:]); !ok || string(key[:n]) != "a" {
			t.Fatalf("DictKey: got %q", key[:n])
		}
		if !p.DictStart() {
			t.Fatal("DictStart a failed")
		}
		if n, ok := p.DictKey(key[:]); !ok || string(key[:n]) != "b" {
			t.Fatalf("DictKey: got %q", key[:n])
		}
		if !p.DictStart() || !p.DictEnd() {
			t.Fatal("b={} failed")
		}
		if !p.DictEnd() {
			t.Fatal("closing a failed")
		}
		if n, ok := p.DictKey(key[:]); !ok || string(key[:n]) != "c" {
			t.Fatalf("DictKey: got %q", key[:n])
		}
		if !p.DictStart() || !p.DictEnd() {
			t.Fatal("c={} failed")
		}
		if !p.DictEnd() {
			t.Fatal("closing outer dict failed")
		}
		if !p.ListStart() || !p.ListEnd() {
			t.Fatal("[] failed")
		}
		if !p.Finished() {
			t.Error("Finished: got false, want true")
		}
	})

	t.Run("MixedValues", func(t *testing.T) {
		p := arg.NewParser([]byte(`{int=-1,float=1.2,bool=T,str="asdf",bytes=0"123",list=[1,2,"hi"],none=N}`))
		if !p.DictStart() {
			t.Fatal("DictStart failed")
		}
		expectKey := func(want string) {
			t.Helper()
			n, ok := p.DictKey(key[:])
			if !ok || string(key[:n]) != want {
				t.Fatalf("DictKey: got (%q, %v), want %q", key[:n], ok, want)
			}
		}
		expectKey("int")
		if v, ok := p.Int(32); !ok || v != -1 {
			t.Fatalf("Int: got %d", v)
		}
		expectKey("float")
		if v, ok := p.Float(32); !ok || float32(v) != 1.2 {
			t.Fatalf("Float: got %v", v)
		}
		expectKey("bool")
		if v, ok := p.Bool(); !ok || !v {
			t.Fatal("Bool failed")
		}
		expectKey("str")
		if n, ok := p.String(str[:]); !ok || string(str[:n]) != "asdf" {
			t.Fatalf("String: got %q", str[:n])
		}
		expectKey("bytes")
		var raw [8]byte
		if n, ok := p.Bytes(raw[:]); !ok || string(raw[:n]) != "123" {
			t.Fatalf("Bytes: got %q", raw[:n])
		}
		expectKey("list")
		if !p.ListStart() {
			t.Fatal("ListStart failed")
		}
		if v, ok := p.Int(8); !ok || v != 1 {
			t.Fatal("Int(1) failed")
		}
		if v, ok := p.Int(8); !ok || v != 2 {
			t.Fatal("Int(2) failed")
		}
		if n, ok := p.String(str[:]); !ok || string(str[:n]) != "hi" {
			t.Fatalf("String: got %q", str[:n])
		}
		if !p.ListEnd() {
			t.Fatal("ListEnd failed")
		}
		expectKey("none")
		if !p.Null() {
			t.Fatal("Null failed")
		}
		if !p.DictEnd() {
			t.Fatal("DictEnd failed")
		}
		if !p.Finished() {
			t.Error("Finished: got false, want true")
		}
	})
}

func TestTypeRetry(t *testing.T) {
	// A failing parse consumes nothing, so the caller can retry with a
	// wider or different type.
	p := arg.NewParser([]byte("123456"))
	if _, ok := p.Uint(8); ok {
		t.Fatal("Uint(8) should fail")
	}
	if v, ok := p.Int(32); !ok || v != 123456 {
		t.Fatalf("Int(32): got (%d, %v)", v, ok)
	}
	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}

	p.Init([]byte("-2"))
	if _, ok := p.Uint(8); ok {
		t.Fatal("Uint(8) of negative should fail")
	}
	if v, ok := p.Int(8); !ok || v != -2 {
		t.Fatalf("Int(8): got (%d, %v)", v, ok)
	}
	if !p.Finished() {
		t.Error("Finished: got false, want true")
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		payload string
		want    []any
	}{
		{"", nil},
		{"42", []any{int64(42)}},
		{"-7", []any{int64(-7)}},
		{"18446744073709551615", []any{uint64(18446744073709551615)}},
		{"1.5", []any{1.5}},
		{"1e3", []any{1000.0}},
		{"T,f", []any{true, false}},
		{"N", []any{nil}},
		{`"hi"`, []any{"hi"}},
		{`0"hi"`, []any{[]byte("hi")}},
		{"0123", []any{int64(123)}},
		{"[1,2]", []any{[]any{int64(1), int64(2)}}},
		{"[]", []any{[]any{}}},
		{"{}", []any{map[string]any{}}},
		{`{a=1,b=[2,"x"]}`, []any{map[string]any{"a": int64(1), "b": []any{int64(2), "x"}}}},
		{`"",{a={b={}},c={}},[]`, []any{"", map[string]any{"a": map[string]any{"b": map[string]any{}}, "c": map[string]any{}}, []any{}}},
	}
	for _, tc := range tests {
		p := arg.NewParser([]byte(tc.payload))
		var got []any
		for !p.Finished() {
			v, ok := p.Value()
			if !ok {
				t.Fatalf("Value(%q): failed after %v", tc.payload, got)
			}
			got = append(got, v)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Value(%q) (-want, +got):\n%s", tc.payload, diff)
		}
	}

	// Malformed payloads fail rather than loop.
	for _, bad := range []string{"[", "[1,", "{a=}", `"x`, "1,,2"} {
		p := arg.NewParser([]byte(bad))
		for i := 0; !p.Finished(); i++ {
			if _, ok := p.Value(); !ok {
				break
			}
			if i > 8 {
				t.Fatalf("Value(%q): did not terminate", bad)
			}
		}
		if p.Finished() {
			t.Errorf("Value(%q): unexpectedly finished", bad)
		}
	}
}
