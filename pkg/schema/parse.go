package schema

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/covenant-data/covenant/pkg/errs"
)

// maxDepth bounds schema nesting to keep traversal safe on hostile input.
const maxDepth = 64

// Parse decodes a JSON-Schema-shaped document into the canonical node model.
// Local $ref pointers are resolved against the document's definitions table
// ("definitions" or "$defs"); unresolved or circular refs are a parse error.
func Parse(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return nil, errs.New(errs.KindBrokenContract, "schema document is empty")
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, errs.Wrap(errs.KindBrokenContract, err, "schema is not a JSON object")
	}

	defs := map[string]json.RawMessage{}
	for _, key := range []string{"definitions", "$defs"} {
		if rawDefs, ok := root[key]; ok {
			var table map[string]json.RawMessage
			if err := json.Unmarshal(rawDefs, &table); err != nil {
				return nil, errs.Wrap(errs.KindBrokenContract, err, key+" is not an object")
			}
			for name, def := range table {
				defs[name] = def
			}
		}
	}

	p := &parser{defs: defs}
	return p.parse(root, map[string]bool{}, 0)
}

// MustParse parses a schema literal, panicking on error. Test helper.
func MustParse(raw string) *Node {
	n, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	defs map[string]json.RawMessage
}

func (p *parser) parseRaw(raw json.RawMessage, seen map[string]bool, depth int) (*Node, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errs.Wrap(errs.KindBrokenContract, err, "schema node is not an object")
	}
	return p.parse(obj, seen, depth)
}

func (p *parser) parse(obj map[string]json.RawMessage, seen map[string]bool, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, errs.New(errs.KindBrokenContract, "schema nesting exceeds maximum depth")
	}

	if rawRef, ok := obj["$ref"]; ok {
		var ref string
		if err := json.Unmarshal(rawRef, &ref); err != nil {
			return nil, errs.Wrap(errs.KindBrokenContract, err, "$ref is not a string")
		}
		return p.resolveRef(ref, seen, depth)
	}

	node := &Node{}
	for key, raw := range obj {
		var err error
		switch key {
		case "type":
			err = parseTypes(raw, node)
		case "properties":
			err = p.parseProperties(raw, node, seen, depth)
		case "required":
			err = json.Unmarshal(raw, &node.Required)
			sort.Strings(node.Required)
		case "items":
			node.Items, err = p.parseRaw(raw, seen, depth+1)
		case "enum":
			err = json.Unmarshal(raw, &node.Enum)
		case "minimum":
			node.Minimum, err = parseNumber(raw)
		case "maximum":
			node.Maximum, err = parseNumber(raw)
		case "exclusiveMinimum":
			node.ExclusiveMinimum, err = parseNumber(raw)
		case "exclusiveMaximum":
			node.ExclusiveMaximum, err = parseNumber(raw)
		case "minLength":
			node.MinLength, err = parseInt(raw)
		case "maxLength":
			node.MaxLength, err = parseInt(raw)
		case "minItems":
			node.MinItems, err = parseInt(raw)
		case "maxItems":
			node.MaxItems, err = parseInt(raw)
		case "pattern":
			var pat string
			if err = json.Unmarshal(raw, &pat); err == nil {
				node.Pattern = &pat
			}
		case "nullable":
			err = json.Unmarshal(raw, &node.Nullable)
		case "default":
			node.HasDefault = true
			err = json.Unmarshal(raw, &node.Default)
		case "format":
			err = json.Unmarshal(raw, &node.Format)
		case "description":
			err = json.Unmarshal(raw, &node.Description)
		case "definitions", "$defs":
			// Consumed at the root; nested tables are preserved verbatim.
			if depth > 0 {
				if node.Extra == nil {
					node.Extra = map[string]json.RawMessage{}
				}
				node.Extra[key] = raw
			}
		default:
			if node.Extra == nil {
				node.Extra = map[string]json.RawMessage{}
			}
			node.Extra[key] = raw
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindBrokenContract, err, "invalid schema keyword "+key)
		}
	}
	return node, nil
}

func (p *parser) resolveRef(ref string, seen map[string]bool, depth int) (*Node, error) {
	name := ""
	for _, prefix := range []string{"#/definitions/", "#/$defs/"} {
		if strings.HasPrefix(ref, prefix) {
			name = strings.TrimPrefix(ref, prefix)
			break
		}
	}
	if name == "" {
		return nil, errs.Newf(errs.KindBrokenContract, "unsupported $ref %q: only local definitions are resolvable", ref)
	}
	def, ok := p.defs[name]
	if !ok {
		return nil, errs.Newf(errs.KindBrokenContract, "unresolved $ref %q", ref)
	}
	if seen[name] {
		return nil, errs.Newf(errs.KindBrokenContract, "circular $ref %q", ref)
	}
	seen[name] = true
	defer delete(seen, name)
	return p.parseRaw(def, seen, depth+1)
}

func (p *parser) parseProperties(raw json.RawMessage, node *Node, seen map[string]bool, depth int) error {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(raw, &props); err != nil {
		return err
	}
	node.Properties = make(map[string]*Node, len(props))
	for name, propRaw := range props {
		child, err := p.parseRaw(propRaw, seen, depth+1)
		if err != nil {
			return err
		}
		node.Properties[name] = child
	}
	return nil
}

func parseTypes(raw json.RawMessage, node *Node) error {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		node.Types = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return err
	}
	sort.Strings(many)
	node.Types = many
	return nil
}

func parseNumber(raw json.RawMessage) (*float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Draft-4 boolean exclusiveMinimum/Maximum carries no bound value.
		var b bool
		if berr := json.Unmarshal(raw, &b); berr == nil {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func parseInt(raw json.RawMessage) (*int, error) {
	var i int
	if err := json.Unmarshal(raw, &i); err != nil {
		return nil, err
	}
	return &i, nil
}
