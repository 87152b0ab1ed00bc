package yaml

import (
	"bytes"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// Merge decodes several documents into out as one. Mappings are merged by
// key, any other value of a later document replaces the earlier one.
func Merge(out any, docs ...[]byte) error {
	var root *yaml.Node
	var errs []error

	for _, doc := range docs {
		var node yaml.Node
		if err := yaml.Unmarshal(doc, &node); err != nil {
			errs = append(errs, err)
			continue
		}
		if len(node.Content) == 0 {
			continue // empty document
		}
		if root == nil {
			root = node.Content[0]
		} else {
			root = mergeNode(root, node.Content[0])
		}
	}

	if root != nil {
		if err := root.Decode(out); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func mergeNode(dst, src *yaml.Node) *yaml.Node {
	if dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return src
	}

next:
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, value := src.Content[i], src.Content[i+1]
		for j := 0; j+1 < len(dst.Content); j += 2 {
			if dst.Content[j].Value == key.Value {
				dst.Content[j+1] = mergeNode(dst.Content[j+1], value)
				continue next
			}
		}
		dst.Content = append(dst.Content, key, value)
	}

	return dst
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// ErrSecret is returned by Patch for values that hold a password.
var ErrSecret = errors.New("yaml: secrets are not written to config")

// Patch changes key/value pair in YAML file without breaking formatting.
// A nil value removes the key.
func Patch(src []byte, key string, value any, path ...string) ([]byte, error) {
	if hasSecret(key, value) {
		return nil, ErrSecret
	}

	nodeParent, err := findParent(src, path...)
	if err != nil {
		return nil, err
	}

	var dst []byte

	if nodeParent != nil {
		dst, err = addOrReplace(src, key, value, nodeParent)
	} else {
		dst, err = addToEnd(src, key, value, path...)
	}
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(dst, map[string]any{}); err != nil {
		return nil, err
	}

	return dst, nil
}

func hasSecret(key string, value any) bool {
	if value == nil {
		return false
	}
	if strings.EqualFold(key, "password") {
		return true
	}

	// check nested maps and structs the same way they are encoded
	b, err := yaml.Marshal(value)
	if err != nil {
		return false
	}
	var node yaml.Node
	if err = yaml.Unmarshal(b, &node); err != nil {
		return false
	}
	return hasSecretNode(&node)
}

func hasSecretNode(node *yaml.Node) bool {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if strings.EqualFold(node.Content[i].Value, "password") && node.Content[i+1].Value != "" {
				return true
			}
		}
	}
	for _, child := range node.Content {
		if hasSecretNode(child) {
			return true
		}
	}
	return false
}

// findParent - return YAML Node from path of keys (tree)
func findParent(src []byte, path ...string) (*yaml.Node, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, err
	}

	if root.Content == nil {
		return nil, nil
	}

	parent := root.Content[0] // yaml.DocumentNode
	for _, name := range path {
		if parent == nil {
			break
		}
		_, parent = findChild(parent, name)
	}
	return parent, nil
}

// findChild - search and return YAML key/value pair for current Node
func findChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	for i, child := range node.Content {
		if child.Value != name {
			continue
		}
		return child, node.Content[i+1]
	}

	return nil, nil
}

func firstChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return node.Content[0]
}

func lastChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return lastChild(node.Content[len(node.Content)-1])
}

func addOrReplace(src []byte, key string, value any, nodeParent *yaml.Node) ([]byte, error) {
	v := map[string]any{key: value}
	put, err := Encode(v, 2)
	if err != nil {
		return nil, err
	}

	if nodeKey, nodeValue := findChild(nodeParent, key); nodeKey != nil {
		put = addIndent(put, nodeKey.Column-1)

		i0 := lineOffset(src, nodeKey.Line)
		i1 := lineOffset(src, lastChild(nodeValue).Line+1)

		if i1 < 0 { // no new line on the end of file
			if value != nil {
				return append(src[:i0], put...), nil
			}
			return src[:i0], nil
		}

		dst := make([]byte, 0, len(src)+len(put))
		dst = append(dst, src[:i0]...)
		if value != nil {
			dst = append(dst, put...)
		}
		return append(dst, src[i1:]...), nil
	}

	put = addIndent(put, firstChild(nodeParent).Column-1)

	i := lineOffset(src, lastChild(nodeParent).Line+1)

	if i < 0 { // no new line on the end of file
		src = append(src, '\n')
		if value != nil {
			src = append(src, put...)
		}
		return src, nil
	}

	dst := make([]byte, 0, len(src)+len(put))
	dst = append(dst, src[:i]...)
	if value != nil {
		dst = append(dst, put...)
	}
	return append(dst, src[i:]...), nil
}

func addToEnd(src []byte, key string, value any, path ...string) ([]byte, error) {
	if value == nil {
		return src, nil // nothing to remove
	}
	if len(path) != 1 {
		return nil, errors.New("yaml: path not exist")
	}

	v := map[string]map[string]any{
		path[0]: {key: value},
	}
	put, err := Encode(v, 2)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(src)+len(put)+10)
	dst = append(dst, src...)
	if l := len(src); l > 0 && src[l-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, put...), nil
}

func addPrefix(src, pre []byte) (dst []byte) {
	for len(src) > 0 {
		dst = append(dst, pre...)
		i := bytes.IndexByte(src, '\n') + 1
		if i == 0 {
			dst = append(dst, src...)
			break
		}
		dst = append(dst, src[:i]...)
		src = src[i:]
	}

	return
}

func addIndent(src []byte, indent int) (dst []byte) {
	pre := make([]byte, indent)
	for i := 0; i < indent; i++ {
		pre[i] = ' '
	}
	return addPrefix(src, pre)
}

func lineOffset(b []byte, line int) (offset int) {
	for l := 1; ; l++ {
		if l == line {
			return offset
		}

		i := bytes.IndexByte(b[offset:], '\n') + 1
		if i == 0 {
			break
		}
		offset += i
	}
	return -1
}
