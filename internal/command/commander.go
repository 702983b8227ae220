package command

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"provisionr/internal/engine"
	"provisionr/internal/generate"
	"provisionr/internal/types"
)

// Commander bundles the stateless operations the dispatcher invokes:
// YAML conversions, dynamic value generation, and engine forwarding.
type Commander struct {
	engine engine.Engine
}

func NewCommander(e engine.Engine) *Commander {
	return &Commander{engine: e}
}

// ValidateTemplate forwards to the engine's parse-only validation.
func (c *Commander) ValidateTemplate(content string) error {
	if err := c.engine.Validate(content); err != nil {
		return types.ValidationError(err.Error())
	}
	return nil
}

// RenderTemplate forwards to the engine.
func (c *Commander) RenderTemplate(content string, values map[string]string) (string, error) {
	out, err := c.engine.Render(content, values)
	if err != nil {
		return "", types.RenderError(err.Error())
	}
	return out, nil
}

// ParseYAML parses any YAML document (JSON is accepted as a YAML
// subset). Multi-document input yields the first document.
func (c *Commander) ParseYAML(s string) (any, error) {
	var doc any
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, types.YAMLError(err.Error())
	}
	return doc, nil
}

// YAMLToFlatMap keeps only top-level mapping entries whose value is a
// scalar, stringified in canonical lexical form. Non-scalar values are
// dropped silently; non-mapping documents yield an empty map.
func (c *Commander) YAMLToFlatMap(doc any) map[string]string {
	out := make(map[string]string)
	m, ok := doc.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case uint64:
			out[k] = strconv.FormatUint(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		}
	}
	return out
}

// MapToYAML emits a mapping of double-quoted strings with sorted keys,
// so persisted generated values are deterministic and round-trip
// through YAMLToFlatMap.
func (c *Commander) MapToYAML(m map[string]string) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: m[k], Style: yaml.DoubleQuotedStyle},
		)
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	if err := enc.Encode(root); err != nil {
		return "", types.YAMLError("yaml emit error: " + err.Error())
	}
	if err := enc.Close(); err != nil {
		return "", types.YAMLError("yaml emit error: " + err.Error())
	}
	return b.String(), nil
}

// GenerateValues produces one value per dynamic field and applies the
// field's hasher (falling back to defaultHash when the field does not
// set one). The returned map holds the post-hash values.
func (c *Commander) GenerateValues(fields []types.DynamicField, defaultHash types.HashAlgorithm) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		gen, err := generate.NewGenerator(f.Generator)
		if err != nil {
			return nil, err
		}
		plain, err := gen.Generate()
		if err != nil {
			return nil, err
		}

		alg := f.Hash
		if alg == "" {
			alg = defaultHash
		}
		hasher, err := generate.NewHasher(alg)
		if err != nil {
			return nil, err
		}
		hashed, err := hasher.Hash(plain)
		if err != nil {
			return nil, err
		}
		out[f.FieldName] = hashed
	}
	return out, nil
}
