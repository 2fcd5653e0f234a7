package fs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// Serializer defines how documents are written to and read from files.
type Serializer interface {
	// Ext is the file extension, with the leading dot.
	Ext() string
	Marshal(doc bson.Raw) ([]byte, error)
	Unmarshal(data []byte) (bson.Raw, error)
}

// DefaultSerializers returns the readable formats keyed by extension.
func DefaultSerializers() map[string]Serializer {
	return map[string]Serializer{
		".json": JSONSerializer{},
		".yaml": YAMLSerializer{},
		".yml":  YAMLSerializer{},
	}
}

// --- JSON Serializer ---

// JSONSerializer stores documents as indented canonical Extended JSON, which
// keeps every BSON type (int32 vs int64, dates, ObjectIDs) across a round trip.
type JSONSerializer struct{}

func (JSONSerializer) Ext() string { return ".json" }

func (JSONSerializer) Marshal(doc bson.Raw) ([]byte, error) {
	data, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal accepts canonical and relaxed Extended JSON, so hand-edited files
// may use plain numbers and ISO dates.
func (JSONSerializer) Unmarshal(data []byte) (bson.Raw, error) {
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return doc, nil
}

// --- YAML Serializer ---

// YAMLSerializer stores documents as YAML transcoded from canonical Extended
// JSON. Key order is preserved.
type YAMLSerializer struct{}

func (YAMLSerializer) Ext() string { return ".yaml" }

func (YAMLSerializer) Marshal(doc bson.Raw) ([]byte, error) {
	data, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLSerializer) Unmarshal(data []byte) (bson.Raw, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, &node); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(buf.Bytes(), false, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml document: %w", err)
	}
	return doc, nil
}

// blockStyle drops the flow style the JSON input was parsed with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func writeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return fmt.Errorf("empty document")
		}
		return writeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		var v any
		if n.ShortTag() == "!!str" {
			v = n.Value
		} else if err := n.Decode(&v); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(data)
		return nil
	}
	return fmt.Errorf("line %d: unsupported yaml node", n.Line)
}
