package engine

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"

	"composer/internal/jsonvalue"
	"composer/internal/schema"
)

// Render serializes an evaluated document in format.
func Render(format schema.Format, root *schema.Node, doc jsonvalue.Value) ([]byte, error) {
	switch format {
	case schema.FormatJSON:
		return RenderJSON(doc)
	case schema.FormatXML:
		return RenderXML(root, doc)
	case schema.FormatCSV:
		return RenderCSV(root, doc)
	case schema.FormatRSS:
		return RenderRSS(root, doc)
	case schema.FormatAtom:
		return RenderAtom(root, doc)
	}
	return nil, fmt.Errorf("render: unknown format %q", format)
}

// RenderJSON writes the document as indented JSON.
func RenderJSON(doc jsonvalue.Value) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// ── XML ────────────────────────────────────────────────────

// RenderXML writes the document following the schema tree. Arrays become a
// wrapper element holding one element per item, named after the array's
// element node; table rows are written as <row>.
func RenderXML(root *schema.Node, doc jsonvalue.Value) ([]byte, error) {
	return renderXML(root, doc, &xmlWriter{})
}

// RenderRSS writes an RSS 2.0 document. Items sit directly under the channel.
func RenderRSS(root *schema.Node, doc jsonvalue.Value) ([]byte, error) {
	return renderXML(root, doc, &xmlWriter{inline: true},
		xml.Attr{Name: xml.Name{Local: "version"}, Value: "2.0"})
}

// RenderAtom writes an Atom feed. Entries sit directly under the feed and
// links are written as href attributes.
func RenderAtom(root *schema.Node, doc jsonvalue.Value) ([]byte, error) {
	if root != nil && root.Namespace == "" {
		root = root.Clone()
		root.Namespace = schema.AtomNamespace
	}
	return renderXML(root, doc, &xmlWriter{inline: true, atom: true})
}

func renderXML(root *schema.Node, doc jsonvalue.Value, w *xmlWriter, attrs ...xml.Attr) ([]byte, error) {
	if root == nil {
		return nil, ErrNoSchema
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	w.enc = xml.NewEncoder(&buf)
	w.enc.Indent("", "  ")
	if err := w.node(root, doc.Get(root.Key), attrs...); err != nil {
		return nil, fmt.Errorf("render xml: %w", err)
	}
	if err := w.enc.Close(); err != nil {
		return nil, fmt.Errorf("render xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type xmlWriter struct {
	enc    *xml.Encoder
	inline bool
	atom   bool
}

func (w *xmlWriter) node(n *schema.Node, v jsonvalue.Value, attrs ...xml.Attr) error {
	if v.IsUndefined() {
		return nil
	}
	if n.Namespace != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: n.Namespace})
	}
	switch {
	case n.Type == schema.TypeTable:
		return w.wrap(n.Key, attrs, func() error {
			for _, row := range v.Items() {
				if err := w.wrap("row", nil, func() error { return w.children(n.Children, row) }); err != nil {
					return err
				}
			}
			return nil
		})
	case n.Element() != nil:
		elem := n.Element()
		items := func() error {
			for _, it := range v.Items() {
				if err := w.node(elem, it); err != nil {
					return err
				}
			}
			return nil
		}
		if w.inline {
			return items()
		}
		return w.wrap(n.Key, attrs, items)
	case len(n.Children) > 0:
		return w.wrap(n.Key, attrs, func() error { return w.children(n.Children, v) })
	case w.atom && n.Key == "link" && v.IsScalar():
		return w.empty(n.Key, xml.Attr{Name: xml.Name{Local: "href"}, Value: v.String()})
	default:
		return w.value(n.Key, v, attrs...)
	}
}

func (w *xmlWriter) children(nodes []*schema.Node, v jsonvalue.Value) error {
	for _, c := range nodes {
		if err := w.node(c, v.Get(c.Key)); err != nil {
			return err
		}
	}
	return nil
}

// value writes data the schema does not describe further.
func (w *xmlWriter) value(name string, v jsonvalue.Value, attrs ...xml.Attr) error {
	switch v.Kind() {
	case jsonvalue.Undefined:
		return nil
	case jsonvalue.Null:
		return w.empty(name, attrs...)
	case jsonvalue.Array:
		for _, it := range v.Items() {
			if err := w.value(name, it); err != nil {
				return err
			}
		}
		return nil
	case jsonvalue.Object:
		return w.wrap(name, attrs, func() error {
			for _, k := range v.Keys() {
				if err := w.value(k, v.Get(k)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return w.wrap(name, attrs, func() error {
		return w.enc.EncodeToken(xml.CharData(v.String()))
	})
}

func (w *xmlWriter) wrap(name string, attrs []xml.Attr, body func() error) error {
	start := xml.StartElement{Name: xml.Name{Local: xmlName(name)}, Attr: attrs}
	if err := w.enc.EncodeToken(start); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	return w.enc.EncodeToken(start.End())
}

func (w *xmlWriter) empty(name string, attrs ...xml.Attr) error {
	return w.wrap(name, attrs, func() error { return nil })
}

// xmlName turns an arbitrary key into a valid element name.
func xmlName(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range key {
		switch {
		case unicode.IsLetter(r), r == '_':
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
		default:
			if i == 0 && unicode.IsDigit(r) {
				b.WriteByte('_')
				b.WriteRune(r)
				continue
			}
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ── CSV ────────────────────────────────────────────────────

// RenderCSV writes the first list of the document as rows. Columns are the
// leaves of the list's element in schema order, named by their dotted path
// within the element. Nested objects and arrays are written as JSON.
// Without a list the whole document is one row.
func RenderCSV(root *schema.Node, doc jsonvalue.Value) ([]byte, error) {
	if root == nil {
		return nil, ErrNoSchema
	}
	list, rows := findList(root, doc.Get(root.Key))
	var cols []column
	var records []jsonvalue.Value
	switch {
	case list == nil:
		cols = columns(root.Children, nil)
		records = []jsonvalue.Value{doc.Get(root.Key)}
	case list.Type == schema.TypeTable:
		cols = columns(list.Children, nil)
		records = rows.Items()
	default:
		elem := list.Element()
		if elem.IsLeaf() || elem.IsList() {
			cols = []column{{name: elem.Key}}
		} else {
			cols = columns(elem.Children, nil)
		}
		records = rows.Items()
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	for _, rec := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = c.cell(rec)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}

type column struct {
	name string
	keys []string // nil reads the row itself
}

func (c column) cell(row jsonvalue.Value) string {
	v := row
	for _, k := range c.keys {
		v = v.Get(k)
	}
	return v.String()
}

func columns(nodes []*schema.Node, prefix []string) []column {
	var out []column
	for _, n := range nodes {
		keys := append(prefix[:len(prefix):len(prefix)], n.Key)
		if len(n.Children) > 0 && !n.IsList() {
			out = append(out, columns(n.Children, keys)...)
			continue
		}
		out = append(out, column{name: strings.Join(keys, "."), keys: keys})
	}
	return out
}

func findList(n *schema.Node, v jsonvalue.Value) (*schema.Node, jsonvalue.Value) {
	if n.IsList() {
		return n, v
	}
	for _, c := range n.Children {
		if l, lv := findList(c, v.Get(c.Key)); l != nil {
			return l, lv
		}
	}
	return nil, jsonvalue.Value{}
}
