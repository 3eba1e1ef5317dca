package toolexec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// registry indexes a components.schemas document by every id a $ref might
// use: its primary id ("#/components/schemas/<name>") and, when the schema
// declares its own "$id", that id as an alias.
type registry struct {
	byID map[string]map[string]any
}

func newRegistry(openAPISpec json.RawMessage) (*registry, error) {
	reg := &registry{byID: make(map[string]map[string]any)}
	if len(openAPISpec) == 0 {
		return reg, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(openAPISpec, &doc); err != nil {
		return nil, fmt.Errorf("toolexec: parse openapi spec: %w", err)
	}
	components, _ := doc["components"].(map[string]any)
	schemas, _ := components["schemas"].(map[string]any)
	for name, raw := range schemas {
		schema, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		primary := "#/components/schemas/" + name
		reg.byID[primary] = schema
		if id, ok := schema["$id"].(string); ok && id != "" {
			reg.byID[id] = schema
		}
	}
	return reg, nil
}

func (r *registry) lookup(ref string) (map[string]any, bool) {
	schema, ok := r.byID[ref]
	return schema, ok
}

// resolveSchema fully inlines local $refs and in-schema anchors found in
// schema against reg, breaking cycles with a placeholder object. It never
// mutates the input; every returned map is a fresh copy down to the replaced
// nodes.
func resolveSchema(schema map[string]any, reg *registry) map[string]any {
	return resolveNode(schema, reg, schema, map[string]bool{})
}

const cyclePlaceholderDescription = "<cycle>"

// resolveNode walks v, replacing any $ref it finds. root is the top-level
// schema document, used to resolve in-document anchor fragments
// ("#/definitions/Foo" style local pointers and "#Anchor" $anchor lookups).
// visiting tracks refs currently being inlined on the current path so a
// schema that (directly or transitively) references itself is broken with a
// cycle placeholder instead of recursing forever.
func resolveNode(v any, reg *registry, root map[string]any, visiting map[string]bool) any {
	switch node := v.(type) {
	case map[string]any:
		return resolveObject(node, reg, root, visiting)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = resolveNode(item, reg, root, visiting)
		}
		return out
	default:
		return v
	}
}

func resolveObject(node map[string]any, reg *registry, root map[string]any, visiting map[string]bool) map[string]any {
	ref, hasRef := node["$ref"].(string)
	if !hasRef {
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[k] = resolveNode(v, reg, root, visiting)
		}
		return out
	}

	if visiting[ref] {
		return map[string]any{"type": "object", "description": cyclePlaceholderDescription}
	}

	target, ok := lookupRef(ref, reg, root)
	if !ok {
		// Unresolved external URI: left in place for the validator's own
		// loader, which will fail loudly if it truly cannot be reached.
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[k] = resolveNode(v, reg, root, visiting)
		}
		return out
	}

	visiting[ref] = true
	resolvedTarget := resolveObject(target, reg, root, visiting)
	delete(visiting, ref)

	merged := make(map[string]any, len(resolvedTarget)+len(node))
	for k, v := range resolvedTarget {
		if k == "$id" || k == "$anchor" {
			// The resolved fragment is anonymous in its new context.
			continue
		}
		merged[k] = v
	}
	for k, v := range node {
		if k == "$ref" {
			continue
		}
		merged[k] = resolveNode(v, reg, root, visiting)
	}
	return merged
}

// lookupRef resolves ref against reg (for "#/components/schemas/<name>" and
// any registered $id), falling back to an in-document anchor search for a
// "#Fragment"-shaped reference that isn't a registry id.
func lookupRef(ref string, reg *registry, root map[string]any) (map[string]any, bool) {
	if schema, ok := reg.lookup(ref); ok {
		return schema, true
	}
	if strings.HasPrefix(ref, "#") && len(ref) > 1 {
		anchor := strings.TrimPrefix(ref, "#")
		if found, ok := findAnchor(root, anchor); ok {
			return found, true
		}
	}
	return nil, false
}

// findAnchor searches node (and descendants) for a schema object whose
// "$anchor" matches anchor.
func findAnchor(node any, anchor string) (map[string]any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		if arr, ok := node.([]any); ok {
			for _, item := range arr {
				if found, ok := findAnchor(item, anchor); ok {
					return found, true
				}
			}
		}
		return nil, false
	}
	if a, ok := obj["$anchor"].(string); ok && a == anchor {
		return obj, true
	}
	for _, v := range obj {
		if found, ok := findAnchor(v, anchor); ok {
			return found, true
		}
	}
	return nil, false
}
