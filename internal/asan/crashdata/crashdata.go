// Package crashdata implements the generic structured value tree used as
// the serialization-agnostic representation of crash reports.
//
// A Value is one of: memory address, unsigned integer, signed integer,
// string, binary blob, list, or dictionary. Dictionaries preserve
// insertion order, which makes report trees a pure, deterministic function
// of their inputs — identical inputs produce byte-identical rendered
// output, enabling golden-file testing.
//
// Trees are value snapshots: blobs copy their bytes on construction, and
// nothing in a tree points back into live heap memory.
package crashdata

// Kind discriminates the variants of a Value.
type Kind int

const (
	// KindAddress is a memory address, rendered as 0x + 8 uppercase hex
	// digits regardless of host pointer width.
	KindAddress Kind = iota
	// KindUnsigned is an unsigned integer leaf.
	KindUnsigned
	// KindSigned is a signed integer leaf.
	KindSigned
	// KindString is a string leaf.
	KindString
	// KindBlob is an opaque byte string.
	KindBlob
	// KindList is an ordered sequence of values.
	KindList
	// KindDict is an ordered mapping from string keys to values.
	KindDict
)

// DictEntry is one key/value pair of an ordered dictionary.
type DictEntry struct {
	Key   string
	Value *Value
}

// Value is a node of the report tree. Construct values with the New*
// functions; the zero Value is an address with value zero.
type Value struct {
	kind Kind
	num  uint64
	sig  int64
	str  string
	blob []byte
	list []*Value
	dict []DictEntry
}

// NewAddress creates an address leaf.
func NewAddress(addr uint64) *Value { return &Value{kind: KindAddress, num: addr} }

// NewUnsigned creates an unsigned integer leaf.
func NewUnsigned(v uint64) *Value { return &Value{kind: KindUnsigned, num: v} }

// NewSigned creates a signed integer leaf.
func NewSigned(v int64) *Value { return &Value{kind: KindSigned, sig: v} }

// NewString creates a string leaf.
func NewString(s string) *Value { return &Value{kind: KindString, str: s} }

// NewBlob creates a blob leaf holding a copy of data.
func NewBlob(data []byte) *Value {
	b := make([]byte, len(data))
	copy(b, data)
	return &Value{kind: KindBlob, blob: b}
}

// NewList creates an empty list.
func NewList() *Value { return &Value{kind: KindList} }

// NewDictionary creates an empty ordered dictionary.
func NewDictionary() *Value { return &Value{kind: KindDict} }

// Kind returns the variant of the value.
func (v *Value) Kind() Kind { return v.kind }

// Append adds an element to a list. Panics on non-lists: mixing up node
// kinds while building a report is a programming error, not a runtime
// condition.
func (v *Value) Append(elem *Value) *Value {
	if v.kind != KindList {
		panic("crashdata: Append on non-list value")
	}
	v.list = append(v.list, elem)
	return v
}

// Set adds or replaces a dictionary entry, preserving the position of a
// replaced key. Panics on non-dictionaries.
func (v *Value) Set(key string, val *Value) *Value {
	if v.kind != KindDict {
		panic("crashdata: Set on non-dictionary value")
	}
	for i := range v.dict {
		if v.dict[i].Key == key {
			v.dict[i].Value = val
			return v
		}
	}
	v.dict = append(v.dict, DictEntry{Key: key, Value: val})
	return v
}

// Get returns the value stored under key in a dictionary.
func (v *Value) Get(key string) (*Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	for i := range v.dict {
		if v.dict[i].Key == key {
			return v.dict[i].Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries of a list or dictionary, 0 otherwise.
func (v *Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindDict:
		return len(v.dict)
	default:
		return 0
	}
}

// Entries returns the ordered entries of a dictionary.
func (v *Value) Entries() []DictEntry { return v.dict }

// Items returns the elements of a list.
func (v *Value) Items() []*Value { return v.list }

// Uint returns the numeric value of an address or unsigned leaf.
func (v *Value) Uint() uint64 { return v.num }

// Int returns the numeric value of a signed leaf.
func (v *Value) Int() int64 { return v.sig }

// Str returns the value of a string leaf.
func (v *Value) Str() string { return v.str }

// Blob returns the bytes of a blob leaf. Callers must not mutate them.
func (v *Value) Blob() []byte { return v.blob }
