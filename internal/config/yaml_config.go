package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FindConfigYAMLPath finds the config.yaml file in the .bblifecycle directory,
// walking up from the working directory.
func FindConfigYAMLPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if path := findProjectConfig(cwd); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("no %s/config.yaml found in current directory or parents", DirName)
}

// SetYamlConfig writes key into the config file at configPath, creating
// the file and any intermediate mappings. Dotted keys address nested
// mappings. Comments and unrelated keys are preserved.
func SetYamlConfig(configPath, key, value string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from caller
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	var root yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config.yaml: %w", err)
		}
	}
	// Empty or comment-only files have no mapping yet.
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config.yaml is not a mapping")
	}

	node := root.Content[0]
	parts := strings.Split(key, ".")
	for i, part := range parts {
		child := lookup(node, part)
		last := i == len(parts)-1
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode}
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode}
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: part}, child)
		}
		if last {
			setScalar(child, value)
			break
		}
		if child.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a mapping", strings.Join(parts[:i+1], "."))
		}
		node = child
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to marshal config.yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setScalar replaces n with value, keeping its comments. Comma separated
// values become a sequence.
func setScalar(n *yaml.Node, value string) {
	head, line, foot := n.HeadComment, n.LineComment, n.FootComment
	if strings.Contains(value, ",") {
		*n = yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range strings.Split(value, ",") {
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: strings.TrimSpace(item)})
		}
	} else {
		*n = yaml.Node{Kind: yaml.ScalarNode, Value: value}
	}
	n.HeadComment, n.LineComment, n.FootComment = head, line, foot
}
