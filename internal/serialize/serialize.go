// Package serialize converts rich structured content to and from the flat,
// path-addressed representation uploaded to the translation vendor. The
// transform is reversible: Decode(Encode(doc, paths)) restricted to those
// paths deep-equals doc.
package serialize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/pathkey"
)

const (
	blockType = "block"
	spanType  = "span"

	spanTag   = "s"
	objectTag = "x"
	keyAttr   = "data-key"
)

// SerializedDoc is the flat payload for one document's in-scope paths. It
// marshals to the JSON file uploaded as vendor job content; linguists edit
// the HTML snippets inside.
type SerializedDoc struct {
	Fields []SerializedField `json:"fields"`
}

// SerializedField is one addressed value: either a rich-text block list
// rendered to HTML snippets, or an opaque pass-through value.
type SerializedField struct {
	Path   string            `json:"path"`
	Kind   string            `json:"kind"`
	Value  any               `json:"value,omitempty"`
	Blocks []SerializedBlock `json:"blocks,omitempty"`
}

const (
	// KindRichText marks a field rendered to editable HTML snippets.
	KindRichText = "richText"
	// KindValue marks a field passed through untouched.
	KindValue = "value"
)

// SerializedBlock is one rich-text block: its translatable text as an HTML
// snippet with one wrapper tag per child, plus the side-channel metadata
// that keeps non-text attributes out of the linguist's view.
type SerializedBlock struct {
	HTML string `json:"html"`
	// Meta holds every non-text attribute of each child, keyed the same way
	// as the wrapper tags.
	Meta map[string]map[string]any `json:"meta"`
	// BlockMeta holds the block's own attributes (style, markDefs, _key...).
	BlockMeta map[string]any `json:"blockMeta"`
}

// IsRichText reports whether v is a rich-text block list: a non-empty array
// whose every element is a block-typed object.
func IsRichText(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return false
	}
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok || m["_type"] != blockType {
			return false
		}
	}
	return true
}

// Encode flattens the in-scope paths of doc. A root path expands to every
// translatable top-level field. Fields missing from doc are skipped.
func Encode(doc map[string]any, paths []pathkey.Path) *SerializedDoc {
	out := &SerializedDoc{}
	for _, path := range contenttree.ExpandRoot(doc, paths) {
		value, ok := contenttree.Get(doc, path)
		if !ok {
			continue
		}
		field := SerializedField{Path: pathkey.PathToString(path)}
		if IsRichText(value) {
			field.Kind = KindRichText
			for _, item := range value.([]any) {
				block, _ := item.(map[string]any)
				field.Blocks = append(field.Blocks, encodeBlock(block))
			}
		} else {
			field.Kind = KindValue
			field.Value = contenttree.Copy(value)
		}
		out.Fields = append(out.Fields, field)
	}
	return out
}

// Decode rebuilds a nested document tree containing exactly the serialized
// paths. HTML parsing tolerates unclosed wrapper tags (the parser
// auto-closes them) and decodes entities, since linguists edit the snippets
// by hand in the vendor's editor.
func Decode(sd *SerializedDoc) (map[string]any, error) {
	out := map[string]any{}
	for _, field := range sd.Fields {
		path := pathkey.StringToPath(field.Path)
		if path.IsRoot() {
			return nil, fmt.Errorf("serialized field with root path")
		}
		switch field.Kind {
		case KindValue:
			contenttree.Set(out, path, contenttree.Copy(field.Value))
		case KindRichText:
			blocks := make([]any, 0, len(field.Blocks))
			for _, b := range field.Blocks {
				block, err := decodeBlock(b)
				if err != nil {
					return nil, fmt.Errorf("decode block at %s: %w", field.Path, err)
				}
				blocks = append(blocks, block)
			}
			contenttree.Set(out, path, blocks)
		default:
			return nil, fmt.Errorf("unknown serialized field kind %q at %s", field.Kind, field.Path)
		}
	}
	return out, nil
}

func encodeBlock(block map[string]any) SerializedBlock {
	out := SerializedBlock{
		Meta:      map[string]map[string]any{},
		BlockMeta: map[string]any{},
	}
	for k, v := range block {
		if k == "children" {
			continue
		}
		out.BlockMeta[k] = contenttree.Copy(v)
	}
	children, _ := block["children"].([]any)
	var b strings.Builder
	for i, item := range children {
		child, _ := item.(map[string]any)
		key := childKey(child, i)
		if child["_type"] == spanType {
			meta := map[string]any{}
			for k, v := range child {
				if k == "text" {
					continue
				}
				meta[k] = contenttree.Copy(v)
			}
			out.Meta[key] = meta
			text, _ := child["text"].(string)
			fmt.Fprintf(&b, `<%s %s="%s">%s</%s>`, spanTag, keyAttr, key, html.EscapeString(text), spanTag)
		} else {
			out.Meta[key] = contenttree.Copy(child).(map[string]any)
			fmt.Fprintf(&b, `<%s %s="%s"></%s>`, objectTag, keyAttr, key, objectTag)
		}
	}
	out.HTML = b.String()
	return out
}

func decodeBlock(sb SerializedBlock) (map[string]any, error) {
	block := map[string]any{}
	for k, v := range sb.BlockMeta {
		block[k] = contenttree.Copy(v)
	}
	nodes, err := parseSnippet(sb.HTML)
	if err != nil {
		return nil, err
	}
	children := make([]any, 0, len(nodes))
	for _, node := range nodes {
		switch {
		case node.Type == html.TextNode:
			if node.Data == "" {
				continue
			}
			// Bare text typed outside any wrapper keeps its place as an
			// unmarked span.
			children = append(children, map[string]any{"_type": spanType, "text": node.Data})
		case node.Type == html.ElementNode && node.Data == objectTag:
			meta := sb.Meta[nodeKey(node)]
			if meta == nil {
				continue
			}
			children = append(children, contenttree.Copy(meta))
		case node.Type == html.ElementNode:
			child := map[string]any{"_type": spanType}
			if meta := sb.Meta[nodeKey(node)]; meta != nil {
				for k, v := range meta {
					child[k] = contenttree.Copy(v)
				}
			}
			child["text"] = textContent(node)
			children = append(children, child)
		}
	}
	block["children"] = children
	return block, nil
}

func parseSnippet(snippet string) ([]*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(snippet), context)
}

func nodeKey(node *html.Node) string {
	for _, attr := range node.Attr {
		if attr.Key == keyAttr {
			return attr.Val
		}
	}
	return ""
}

func textContent(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return b.String()
}

func childKey(child map[string]any, index int) string {
	if key, ok := child["_key"].(string); ok && key != "" {
		return key
	}
	return fmt.Sprintf("c%d", index)
}
