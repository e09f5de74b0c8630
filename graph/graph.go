package graph

import (
	"context"
	"fmt"
	"iter"

	errorskg "github.com/sweetpotato0/ai-research/errors"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
	NodeTypeCustom    NodeType = "custom"
)

// NodeFunc transforms the state. It returns the next state instead of mutating its input.
type NodeFunc[S any] func(context.Context, S) (S, error)

// ConditionFunc evaluates a condition and returns a key of the node's NextMap
type ConditionFunc[S any] func(context.Context, S) (string, error)

// Node represents a node in the execution graph
type Node[S any] struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc[S]      // optional for start and end nodes
	Condition ConditionFunc[S] // Only for condition nodes
	Next      string            // successor for non-condition nodes
	NextMap   map[string]string // For condition nodes: condition result -> next node
}

// Step is emitted after every executed node.
type Step[S any] struct {
	Node  string
	Index int // 1-based position in the run
	State S
}

// Graph is a sequential state machine: exactly one node runs at a time and
// condition nodes pick the successor. Cycles are allowed and bounded by maxVisits.
type Graph[S any] struct {
	nodes     map[string]*Node[S]
	startNode string
	endNode   string
	maxVisits int
}

// NewGraph creates a new graph
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]*Node[S]),
		maxVisits: 10,
	}
}

func (g *Graph[S]) validateNode(node *Node[S]) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	case NodeTypeStart, NodeTypeEnd:
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node to the graph
func (g *Graph[S]) AddNode(node *Node[S]) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)

	g.nodes[node.Name] = node

	// Auto-set start and end nodes
	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
	if node.Type == NodeTypeEnd {
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph[S]) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph[S]) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph[S]) SetMaxVisits(maxVisits int) {
	if maxVisits > 0 {
		g.maxVisits = maxVisits
	}
}

// GetNode returns a node by name
func (g *Graph[S]) GetNode(name string) (*Node[S], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Validate checks that every edge points at a known node and that the walk can end.
func (g *Graph[S]) Validate() error {
	if g.startNode == "" {
		return fmt.Errorf("start node not set")
	}
	if g.endNode == "" {
		return fmt.Errorf("end node not set")
	}
	for name, node := range g.nodes {
		switch {
		case node.Type == NodeTypeCondition:
			if len(node.NextMap) == 0 {
				return fmt.Errorf("condition node %s has no branches", name)
			}
			for key, target := range node.NextMap {
				if _, ok := g.nodes[target]; !ok {
					return fmt.Errorf("branch %q of node %s points at unknown node %s", key, name, target)
				}
			}
		case name == g.endNode:
		default:
			if node.Next == "" {
				return fmt.Errorf("no next node specified for node %s", name)
			}
			if _, ok := g.nodes[node.Next]; !ok {
				return fmt.Errorf("node %s points at unknown node %s", name, node.Next)
			}
		}
	}
	return nil
}

// Stream walks the graph from the start node and yields a Step after every node that
// executes. Iteration stops at the end node, on the first error, or when the consumer
// stops pulling.
func (g *Graph[S]) Stream(ctx context.Context, initial S) iter.Seq2[Step[S], error] {
	return func(yield func(Step[S], error) bool) {
		var zero Step[S]
		if g.startNode == "" {
			yield(zero, fmt.Errorf("start node not set"))
			return
		}

		state := initial
		current := g.startNode
		visited := make(map[string]int)
		index := 0

		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			node, exists := g.nodes[current]
			if !exists {
				yield(zero, fmt.Errorf("node %s not found", current))
				return
			}

			// Detect runaway loops by counting how many times we revisit a node.
			visited[current]++
			if visited[current] > g.maxVisits {
				yield(zero, fmt.Errorf("infinite loop detected at node %s", current))
				return
			}

			if node.Type == NodeTypeCondition {
				result, err := node.Condition(ctx, state)
				if err != nil {
					yield(zero, fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err))
					return
				}
				next := node.NextMap[result]
				if next == "" {
					yield(zero, fmt.Errorf("no branch %q at node %s", result, node.Name))
					return
				}
				current = next
				continue
			}

			if node.Execute != nil {
				next, err := node.Execute(ctx, state)
				if err != nil {
					yield(zero, fmt.Errorf("error executing node %s: %w", node.Name, err))
					return
				}
				state = next
				index++
				if !yield(Step[S]{Node: node.Name, Index: index, State: state}, nil) {
					return
				}
			}

			if current == g.endNode {
				return
			}
			if node.Next == "" {
				yield(zero, fmt.Errorf("no next node specified for node %s", node.Name))
				return
			}
			current = node.Next
		}
	}
}

// Execute runs the graph to completion and returns the state after the last executed
// node. A run in which no node executes reports errors.ErrNoFinalState.
func (g *Graph[S]) Execute(ctx context.Context, initial S) (S, error) {
	var (
		last S
		ran  bool
	)
	for step, err := range g.Stream(ctx, initial) {
		if err != nil {
			return last, err
		}
		last = step.State
		ran = true
	}
	if !ran {
		return last, errorskg.ErrNoFinalState
	}
	return last, nil
}

// Builder helps build graphs fluently
type Builder[S any] struct {
	graph *Graph[S]
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		graph: NewGraph[S](),
	}
}

// AddNode adds a node to the graph
func (b *Builder[S]) AddNode(name string, nodeType NodeType, execute NodeFunc[S]) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder[S]) AddConditionNode(name string, condition ConditionFunc[S], nextMap map[string]string) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		NextMap:   nextMap,
	})
	return b
}

// AddEdge connects two nodes
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	node, exists := b.graph.nodes[from]
	if !exists {
		panic(fmt.Sprintf("node %s not found", from))
	}
	if node.Next != "" && node.Next != to {
		panic(fmt.Sprintf("node %s already has successor %s", from, node.Next))
	}
	node.Next = to
	return b
}

// SetStart sets the start node
func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder[S]) SetEnd(name string) *Builder[S] {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder[S]) SetMaxVisits(maxVisits int) *Builder[S] {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Build validates and returns the constructed graph
func (b *Builder[S]) Build() (*Graph[S], error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
