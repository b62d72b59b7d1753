package crashdata

import (
	"fmt"
	"strconv"
	"strings"
)

// JSON-style rendering of a value tree.
//
// The output is human-oriented rather than strictly standard JSON:
// addresses render as bare 0xXXXXXXXX literals and blobs as grouped hex
// bytes, which is what people debugging a heap corruption want to read.
// The rendering is deterministic: dictionaries keep insertion order and
// no map iteration is involved anywhere.

const indentUnit = "  "

// groupedPerLine is how many address or blob bytes go on one line.
const groupedPerLine = 8

// ToJSON renders the tree as indented JSON-style text.
func ToJSON(v *Value) string {
	var b strings.Builder
	render(&b, v, 0)
	return b.String()
}

func render(b *strings.Builder, v *Value, indent int) {
	switch v.kind {
	case KindAddress:
		fmt.Fprintf(b, "0x%08X", v.num)
	case KindUnsigned:
		b.WriteString(strconv.FormatUint(v.num, 10))
	case KindSigned:
		b.WriteString(strconv.FormatInt(v.sig, 10))
	case KindString:
		b.WriteString(strconv.Quote(v.str))
	case KindBlob:
		renderBlob(b, v.blob, indent)
	case KindList:
		renderList(b, v.list, indent)
	case KindDict:
		renderDict(b, v.dict, indent)
	}
}

func writeIndent(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		b.WriteString(indentUnit)
	}
}

func renderDict(b *strings.Builder, entries []DictEntry, indent int) {
	if len(entries) == 0 {
		b.WriteString("{}")
		return
	}
	b.WriteString("{\n")
	for i, e := range entries {
		writeIndent(b, indent+1)
		b.WriteString(strconv.Quote(e.Key))
		b.WriteString(": ")
		render(b, e.Value, indent+1)
		if i < len(entries)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	writeIndent(b, indent)
	b.WriteString("}")
}

func renderList(b *strings.Builder, items []*Value, indent int) {
	if len(items) == 0 {
		b.WriteString("[]")
		return
	}
	if leavesOnly(items) {
		b.WriteString("[\n")
		for i, it := range items {
			if i%groupedPerLine == 0 {
				writeIndent(b, indent+1)
			}
			render(b, it, indent+1)
			if i < len(items)-1 {
				b.WriteString(",")
				if (i+1)%groupedPerLine == 0 {
					b.WriteString("\n")
				} else {
					b.WriteString(" ")
				}
			}
		}
		b.WriteString("\n")
		writeIndent(b, indent)
		b.WriteString("]")
		return
	}
	b.WriteString("[\n")
	for i, it := range items {
		writeIndent(b, indent+1)
		render(b, it, indent+1)
		if i < len(items)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	writeIndent(b, indent)
	b.WriteString("]")
}

func renderBlob(b *strings.Builder, data []byte, indent int) {
	b.WriteString("{\n")
	writeIndent(b, indent+1)
	b.WriteString("\"type\": \"blob\",\n")
	writeIndent(b, indent+1)
	b.WriteString("\"address\": null,\n")
	writeIndent(b, indent+1)
	b.WriteString("\"size\": null,\n")
	writeIndent(b, indent+1)
	if len(data) == 0 {
		b.WriteString("\"data\": []\n")
	} else {
		b.WriteString("\"data\": [\n")
		for i, by := range data {
			if i%groupedPerLine == 0 {
				writeIndent(b, indent+2)
			}
			fmt.Fprintf(b, "0x%02X", by)
			if i < len(data)-1 {
				b.WriteString(",")
				if (i+1)%groupedPerLine == 0 {
					b.WriteString("\n")
				} else {
					b.WriteString(" ")
				}
			}
		}
		b.WriteString("\n")
		writeIndent(b, indent+1)
		b.WriteString("]\n")
	}
	writeIndent(b, indent)
	b.WriteString("}")
}

// leavesOnly reports whether every element is a scalar leaf, in which case
// the list renders in the compact grouped form.
func leavesOnly(items []*Value) bool {
	for _, it := range items {
		switch it.kind {
		case KindAddress, KindUnsigned, KindSigned, KindString:
		default:
			return false
		}
	}
	return true
}
