package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
)

// Save writes the whole config to path, creating parent directories.
// Comments in an existing file are not kept; use AddServer or SetRemind for
// in-place edits.
func Save(path string, cfg *Config) error {
	data, err := encode(cfg)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// AddServer appends a server to the config file at path, creating the file
// when it doesn't exist. It preserves the existing YAML structure and comments.
func AddServer(path string, s Server) error {
	if err := ValidateServer(s); err != nil {
		return err
	}

	root, err := readNode(path)
	if err != nil {
		return err
	}
	doc := root.Content[0]

	serversNode := findMapValue(doc, "servers")
	if serversNode == nil || serversNode.Kind != yaml.SequenceNode {
		serversNode = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		setMapValue(doc, "servers", serversNode)
	}

	for _, item := range serversNode.Content {
		if name := findMapValue(item, "name"); name != nil && name.Value == s.Name {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("A server named '%s' already exists", s.Name),
				"Pick another name, or edit the existing entry in "+path)
		}
	}

	var item yaml.Node
	if err := item.Encode(s); err != nil {
		return fmt.Errorf("failed to encode server: %w", err)
	}
	serversNode.Content = append(serversNode.Content, &item)

	return writeNode(path, root)
}

// RemoveServer deletes the server called name from the config file at path,
// keeping the rest of the file as it is.
func RemoveServer(path, name string) error {
	root, err := readNode(path)
	if err != nil {
		return err
	}

	serversNode := findMapValue(root.Content[0], "servers")
	if serversNode != nil && serversNode.Kind == yaml.SequenceNode {
		for i, item := range serversNode.Content {
			if n := findMapValue(item, "name"); n != nil && n.Value == name {
				serversNode.Content = append(serversNode.Content[:i], serversNode.Content[i+1:]...)
				return writeNode(path, root)
			}
		}
	}

	return errors.New(errors.ErrConfig,
		fmt.Sprintf("No server named '%s'", name),
		"Run 'gpuview server list' to see configured servers.")
}

// SetRemind replaces the remind section of the config file at path.
func SetRemind(path string, p remind.Policy) error {
	root, err := readNode(path)
	if err != nil {
		return err
	}

	var value yaml.Node
	if err := value.Encode(p); err != nil {
		return fmt.Errorf("failed to encode remind policy: %w", err)
	}
	setMapValue(root.Content[0], "remind", &value)

	return writeNode(path, root)
}

// readNode parses path into a document node. A missing or empty file yields
// a fresh document holding the version key.
func readNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file "+path,
			"Check file permissions")
	}

	var root yaml.Node
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to parse config file "+path,
				"Check the YAML syntax")
		}
	}

	if root.Kind == 0 {
		doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMapValue(doc, "version", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(CurrentConfigVersion)})
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc}}
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrConfig,
			"Config file "+path+" isn't a YAML mapping",
			"The top level should hold keys like 'servers' and 'notify'.")
	}
	return &root, nil
}

func writeNode(path string, root *yaml.Node) error {
	data, err := encode(root)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func encode(v interface{}) ([]byte, error) {
	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return []byte(buf.String()), nil
}

// writeFile writes with 0600 since the file can hold passwords.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to create config directory",
			"Check directory permissions")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write config file "+path,
			"Check file permissions")
	}
	return nil
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return node.Content[i+1]
		}
	}

	return nil
}

// setMapValue replaces the value under key, or appends the pair.
func setMapValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Kind == yaml.ScalarNode && node.Content[i].Value == key {
			node.Content[i+1] = value
			return
		}
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}
