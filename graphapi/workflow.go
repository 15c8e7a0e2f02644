package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	ErrNodeNotFound  = errors.New("node not found in workflow")
	ErrInputNotFound = errors.New("input not found on node")
	ErrLinkInput     = errors.New("input is a link to another node")
)

// Workflow is an API-format ComfyUI workflow: a mapping of node IDs to the node's
// class type and inputs. This is the form ComfyUI exports with "Save (API Format)"
// and the form it accepts in the "prompt" field of a POST to /prompt.
type Workflow map[string]*PromptNode

// PromptNode is a single node of an API-format workflow
type PromptNode struct {
	// Inputs can be one of:
	//	float64
	//	string
	//	bool
	//	[]interface{} where: [0] is string of target node
	//					     [1] is float64 (int) of slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      *NodeMeta              `json:"_meta,omitempty"`
}

type NodeMeta struct {
	Title string `json:"title"`
}

// Title returns the node's title from its metadata, or its class type when there is none
func (n *PromptNode) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

// IsLink reports whether an input value is a reference to another node's output
func IsLink(v interface{}) bool {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return false
	}
	if _, ok := arr[0].(string); !ok {
		return false
	}
	switch arr[1].(type) {
	case float64, int:
		return true
	}
	return false
}

func NewWorkflowFromJsonReader(r io.Reader) (Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewWorkflowFromJsonBytes(data)
}

func NewWorkflowFromJsonBytes(data []byte) (Workflow, error) {
	wf := make(Workflow)
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow: %w", err)
	}
	for id, node := range wf {
		if node == nil {
			return nil, fmt.Errorf("decoding workflow: node %s is null", id)
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]interface{})
		}
	}
	return wf, nil
}

// NewWorkflowFromJsonFile reads and decodes a workflow file. Every call returns an
// independent Workflow.
func NewWorkflowFromJsonFile(path string) (Workflow, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewWorkflowFromJsonReader(freader)
}

func NewWorkflowFromJsonString(data string) (Workflow, error) {
	return NewWorkflowFromJsonReader(strings.NewReader(data))
}

// NodeIDs returns the workflow's node IDs in a stable order
func (w Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w Workflow) GetNode(id string) (*PromptNode, error) {
	node, ok := w[id]
	if !ok || node == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// GetNodesWithClassType returns the IDs of every node of the given class type, sorted
func (w Workflow) GetNodesWithClassType(classType string) []string {
	retv := make([]string, 0)
	for _, id := range w.NodeIDs() {
		if w[id].ClassType == classType {
			retv = append(retv, id)
		}
	}
	return retv
}

// GetInput returns the value of a node input
func (w Workflow) GetInput(id string, name string) (interface{}, error) {
	node, err := w.GetNode(id)
	if err != nil {
		return nil, err
	}
	v, ok := node.Inputs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrInputNotFound, id, name)
	}
	return v, nil
}

// SetInput overwrites a leaf input value on a node. Links to other nodes are never
// overwritten, which keeps the topology of the workflow intact.
func (w Workflow) SetInput(id string, name string, value interface{}) error {
	node, err := w.GetNode(id)
	if err != nil {
		return err
	}
	if current, ok := node.Inputs[name]; ok && IsLink(current) {
		return fmt.Errorf("%w: %s.%s", ErrLinkInput, id, name)
	}
	node.Inputs[name] = value
	return nil
}

// Clone returns a deep copy of the workflow. Mutating the copy never affects the original.
func (w Workflow) Clone() Workflow {
	if w == nil {
		return nil
	}
	retv := make(Workflow, len(w))
	for id, node := range w {
		if node == nil {
			retv[id] = nil
			continue
		}
		n := &PromptNode{
			ClassType: node.ClassType,
			Inputs:    make(map[string]interface{}, len(node.Inputs)),
		}
		if node.Meta != nil {
			m := *node.Meta
			n.Meta = &m
		}
		for k, v := range node.Inputs {
			n.Inputs[k] = cloneValue(v)
		}
		retv[id] = n
	}
	return retv
}

func cloneValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []interface{}:
		c := make([]interface{}, len(value))
		for i, e := range value {
			c[i] = cloneValue(e)
		}
		return c
	case map[string]interface{}:
		c := make(map[string]interface{}, len(value))
		for k, e := range value {
			c[k] = cloneValue(e)
		}
		return c
	}
	return v
}

func (w Workflow) WorkflowToJSON() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w Workflow) SaveWorkflowToFile(path string) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
