package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Workflow is the executable definition handed to the engine.
// Management layers persist it; the engine treats it as read-only.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Edges       []Edge         `json:"edges" yaml:"edges"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
	NodeTypeLoop      NodeType = "loop"
	NodeTypeCode      NodeType = "code"
)

// NodeTypes lists every recognized node type.
var NodeTypes = []NodeType{
	NodeTypeStart, NodeTypeEnd, NodeTypeTool, NodeTypeCondition, NodeTypeLoop, NodeTypeCode,
}

// Valid reports whether t is one of the recognized node types.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Node is a single step of a workflow graph.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type" yaml:"type"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	ToolID string         `json:"tool_id,omitempty" yaml:"tool_id,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// DisplayName returns the label, falling back to the node ID.
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// editorNode is the node shape produced by graph editors: the executable
// fields live under "data" and the outer "type" is a rendering hint.
type editorNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data *struct {
		Type   NodeType       `json:"type"`
		Label  string         `json:"label"`
		ToolID json.RawMessage `json:"tool_id"`
		Config map[string]any `json:"config"`
	} `json:"data"`
	Label  string          `json:"label"`
	ToolID json.RawMessage `json:"tool_id"`
	Config map[string]any  `json:"config"`
}

// UnmarshalJSON accepts both the flat node form and the editor form
// {id, type, data: {type, label, tool_id, config}, position}.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw editorNode
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	n.ID = raw.ID
	n.Type = NodeType(raw.Type)
	n.Label = raw.Label
	n.Config = raw.Config
	toolID := raw.ToolID

	if raw.Data != nil {
		if raw.Data.Type != "" {
			n.Type = raw.Data.Type
		}
		if raw.Data.Label != "" {
			n.Label = raw.Data.Label
		}
		if raw.Data.Config != nil {
			n.Config = raw.Data.Config
		}
		if len(raw.Data.ToolID) > 0 {
			toolID = raw.Data.ToolID
		}
	}

	id, err := decodeToolID(toolID)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.ToolID = id
	return nil
}

// decodeToolID accepts string and numeric tool references.
func decodeToolID(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return formatNumber(t), nil
	default:
		return "", fmt.Errorf("tool_id must be a string or number, got %T", v)
	}
}

// Edge is a directed transition between two nodes.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// UnmarshalJSON accepts the editor's camelCase handle keys and their
// snake_case spelling; camelCase wins when both are present.
func (e *Edge) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID                string `json:"id"`
		Source            string `json:"source"`
		Target            string `json:"target"`
		SourceHandle      string `json:"sourceHandle"`
		TargetHandle      string `json:"targetHandle"`
		SourceHandleSnake string `json:"source_handle"`
		TargetHandleSnake string `json:"target_handle"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Edge{ID: raw.ID, Source: raw.Source, Target: raw.Target, SourceHandle: raw.SourceHandle, TargetHandle: raw.TargetHandle}
	if e.SourceHandle == "" {
		e.SourceHandle = raw.SourceHandleSnake
	}
	if e.TargetHandle == "" {
		e.TargetHandle = raw.TargetHandleSnake
	}
	return nil
}

// Default configuration values applied by the node config types.
const (
	DefaultEndOutputKey  = "result"
	DefaultItemsKey      = "items"
	DefaultItemVar       = "item"
	DefaultMaxIterations = 100
	DefaultCodeLanguage  = "js"

	LoopTypeFor   = "for"
	LoopTypeWhile = "while"

	// LoopIndexKey is the context key loop nodes bind to the current iteration.
	LoopIndexKey = "loop_index"
)

// EndConfig is the config block for end nodes.
type EndConfig struct {
	OutputKey string `mapstructure:"output_key"`
}

// ToolConfig is the config block for tool nodes.
type ToolConfig struct {
	ToolID    string         `mapstructure:"tool_id"`
	Inputs    map[string]any `mapstructure:"inputs"`
	OutputKey string         `mapstructure:"output_key"`
}

// ConditionConfig is the config block for condition nodes.
type ConditionConfig struct {
	Condition string `mapstructure:"condition"`
}

// LoopConfig is the config block for loop nodes.
type LoopConfig struct {
	LoopType      string `mapstructure:"loop_type"`
	ItemsKey      string `mapstructure:"items_key"`
	ItemVar       string `mapstructure:"item_var"`
	Condition     string `mapstructure:"condition"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// CodeConfig is the config block for inline code nodes.
type CodeConfig struct {
	Code      string         `mapstructure:"code"`
	Language  string         `mapstructure:"language"`
	Inputs    map[string]any `mapstructure:"inputs"`
	OutputKey string         `mapstructure:"output_key"`
}

// DecodeConfig decodes a node's config map into one of the typed config
// structs. Scalars are converted leniently ("3" -> 3) since configs usually
// come from hand-edited JSON or YAML.
func DecodeConfig(node *Node, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(node.Config); err != nil {
		return NewErrorf(ErrCodeInvalidConfig, "invalid %s config: %s", node.Type, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return nil
}

// EndConfigOf decodes and defaults an end node's config.
func EndConfigOf(node *Node) (EndConfig, error) {
	var cfg EndConfig
	if err := DecodeConfig(node, &cfg); err != nil {
		return cfg, err
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = DefaultEndOutputKey
	}
	return cfg, nil
}

// ToolConfigOf decodes a tool node's config. The node-level tool reference
// takes precedence over config.tool_id.
func ToolConfigOf(node *Node) (ToolConfig, error) {
	var cfg ToolConfig
	if err := DecodeConfig(node, &cfg); err != nil {
		return cfg, err
	}
	if node.ToolID != "" {
		cfg.ToolID = node.ToolID
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = fmt.Sprintf("tool_%s_output", node.ID)
	}
	return cfg, nil
}

// ConditionConfigOf decodes a condition node's config.
func ConditionConfigOf(node *Node) (ConditionConfig, error) {
	var cfg ConditionConfig
	if err := DecodeConfig(node, &cfg); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.Condition) == "" {
		return cfg, NewError(ErrCodeInvalidConfig, "condition node requires a non-empty 'condition'").WithNode(node.ID)
	}
	return cfg, nil
}

// LoopConfigOf decodes and defaults a loop node's config.
func LoopConfigOf(node *Node) (LoopConfig, error) {
	var cfg LoopConfig
	if err := DecodeConfig(node, &cfg); err != nil {
		return cfg, err
	}
	if cfg.LoopType == "" {
		cfg.LoopType = LoopTypeFor
	}
	if cfg.ItemsKey == "" {
		cfg.ItemsKey = DefaultItemsKey
	}
	if cfg.ItemVar == "" {
		cfg.ItemVar = DefaultItemVar
	}
	if _, set := node.Config["max_iterations"]; !set {
		cfg.MaxIterations = DefaultMaxIterations
	}
	switch cfg.LoopType {
	case LoopTypeFor:
	case LoopTypeWhile:
		if strings.TrimSpace(cfg.Condition) == "" {
			return cfg, NewError(ErrCodeInvalidConfig, "while loop requires a non-empty 'condition'").WithNode(node.ID)
		}
	default:
		return cfg, NewErrorf(ErrCodeInvalidConfig, "unknown loop_type %q (want for or while)", cfg.LoopType).WithNode(node.ID)
	}
	return cfg, nil
}

// CodeConfigOf decodes and defaults a code node's config.
func CodeConfigOf(node *Node) (CodeConfig, error) {
	var cfg CodeConfig
	if err := DecodeConfig(node, &cfg); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.Code) == "" {
		return cfg, NewError(ErrCodeInvalidConfig, "code node requires a non-empty 'code'").WithNode(node.ID)
	}
	if cfg.Language == "" {
		cfg.Language = DefaultCodeLanguage
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = fmt.Sprintf("code_%s_output", node.ID)
	}
	return cfg, nil
}
