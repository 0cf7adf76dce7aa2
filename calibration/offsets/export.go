package offsets

import (
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YAML returns the offsets as a mapping from slot name to value, in vector order.
func (p *Parser) YAML(values []float64) ([]byte, error) {
	names := p.Names()
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for i, name := range names {
		v := 0.
		if i < len(values) {
			v = values[i]
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(v, 'g', -1, 64)},
		)
	}
	return yaml.Marshal(doc)
}

// ParseYAML reads offsets written by YAML back into a vector for this layout. Names the layout
// does not know are rejected; missing names stay 0.
func (p *Parser) ParseYAML(raw []byte) ([]float64, error) {
	parsed := map[string]float64{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	values := make([]float64, p.Size())
	for name, v := range parsed {
		idx, ok := p.Index(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownOffset, "%q", name)
		}
		values[idx] = v
	}
	return values, nil
}
