package bag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hamba/pkg/v2/errors"
)

// ErrInvalidTemplate is returned when a data bag template holds something
// other than strings and mappings.
const ErrInvalidTemplate = errors.Error("invalid data bag template")

// TemplateNode is either a Leaf or a TemplateGroup.
type TemplateNode interface {
	templateNode()
}

// Leaf is a store path template, "%s" is replaced with the item.
type Leaf string

func (Leaf) templateNode() {}

// TemplateGroup is a nested mapping of templates.
type TemplateGroup map[string]TemplateNode

func (TemplateGroup) templateNode() {}

// UnmarshalYAML decodes a nested mapping of strings.
func (g *TemplateGroup) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}

	grp, err := toTemplateGroup(raw, "")
	if err != nil {
		return err
	}
	*g = grp
	return nil
}

func toTemplateGroup(raw map[string]any, prefix string) (TemplateGroup, error) {
	grp := make(TemplateGroup, len(raw))
	for key, val := range raw {
		node, err := toTemplateNode(val, prefix+key)
		if err != nil {
			return nil, err
		}
		grp[key] = node
	}
	return grp, nil
}

func toTemplateNode(val any, field string) (TemplateNode, error) {
	switch v := val.(type) {
	case string:
		return Leaf(v), nil
	case map[string]any:
		return toTemplateGroup(v, field+".")
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, vv := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("field %q: non-string key %v: %w", field, k, ErrInvalidTemplate)
			}
			m[ks] = vv
		}
		return toTemplateGroup(m, field+".")
	case nil:
		return nil, fmt.Errorf("field %q: missing template, expected a string like \"%%s/path\": %w", field, ErrInvalidTemplate)
	}
	return nil, fmt.Errorf("field %q: expected a string or a mapping, got %T: %w", field, val, ErrInvalidTemplate)
}

// Expand substitutes item into template. "%%" yields a literal "%".
func Expand(template, item string) string {
	return strings.NewReplacer("%%", "%", "%s", item).Replace(template)
}

// ResolvedNode is either a Value or a Group.
type ResolvedNode interface {
	resolvedNode()
	empty() bool
}

// Value is a resolved store entry.
type Value string

func (Value) resolvedNode() {}

func (v Value) empty() bool { return v == "" }

// Group is a nested mapping of resolved values.
type Group map[string]ResolvedNode

func (Group) resolvedNode() {}

func (g Group) empty() bool { return len(g) == 0 }

// Prune removes empty values and groups, bottom-up.
func (g Group) Prune() Group {
	for key, node := range g {
		if sub, ok := node.(Group); ok {
			node = sub.Prune()
			g[key] = node
		}
		if node == nil || node.empty() {
			delete(g, key)
		}
	}
	return g
}

// StripEmpty removes empty top-level fields only.
func (g Group) StripEmpty() Group {
	for key, node := range g {
		if node == nil || node.empty() {
			delete(g, key)
		}
	}
	return g
}

// Document converts the group into plain maps and strings.
func (g Group) Document() map[string]any {
	doc := make(map[string]any, len(g))
	for key, node := range g {
		switch n := node.(type) {
		case Value:
			doc[key] = string(n)
		case Group:
			doc[key] = n.Document()
		}
	}
	return doc
}

// Keys returns the top-level field names, sorted.
func (g Group) Keys() []string {
	keys := make([]string, 0, len(g))
	for key := range g {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
