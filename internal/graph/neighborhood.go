package graph

import (
	"context"

	"memoryhub/internal/apperr"
)

// Edge is one traversed connection, stamped with the BFS depth at which it
// was discovered.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Type  string `json:"type"`
	Depth int    `json:"depth"`
}

// Neighborhood is the §4.6 neighborhood() result shape.
type Neighborhood struct {
	CentralEntity    string   `json:"centralEntity"`
	Nodes            []string `json:"nodes"`
	Edges            []Edge   `json:"edges"`
	TotalConnections int      `json:"totalConnections"`
}

const maxNeighborhoodDepth = 5

// Neighborhood implements §4.6's neighborhood(name, depth): a true
// iterative BFS over outgoing+incoming edges with a single global visited
// set, resolved against the explicit §9/SPEC_FULL §12.1 decision (not the
// 1-hop shortcut the source sometimes takes).
func (g *Graph) Neighborhood(ctx context.Context, name string, depth int) (*Neighborhood, error) {
	if depth > maxNeighborhoodDepth {
		depth = maxNeighborhoodDepth
	}
	if depth < 0 {
		depth = 0
	}

	central, err := g.entities.FindByNameOrAlias(ctx, name)
	if err != nil {
		return nil, err
	}
	if central == nil {
		return nil, apperr.NotFound("entity not found")
	}

	visited := map[string]string{central.ID: central.Name} // id -> name
	seenEdges := make(map[string]bool)                     // relation id -> already in edges
	var edges []Edge
	frontier := []string{central.ID}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			out, err := g.relations.OutgoingEdges(ctx, id)
			if err != nil {
				return nil, err
			}
			in, err := g.relations.IncomingEdges(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, r := range out {
				if !seenEdges[r.ID] {
					seenEdges[r.ID] = true
					edges = append(edges, Edge{From: id, To: r.ToEntityID, Type: r.RelationType, Depth: d})
				}
				if _, ok := visited[r.ToEntityID]; !ok {
					neighborName, nerr := g.nameOf(ctx, r.ToEntityID)
					if nerr != nil {
						continue
					}
					visited[r.ToEntityID] = neighborName
					next = append(next, r.ToEntityID)
				}
			}
			for _, r := range in {
				if !seenEdges[r.ID] {
					seenEdges[r.ID] = true
					edges = append(edges, Edge{From: r.FromEntityID, To: id, Type: r.RelationType, Depth: d})
				}
				if _, ok := visited[r.FromEntityID]; !ok {
					neighborName, nerr := g.nameOf(ctx, r.FromEntityID)
					if nerr != nil {
						continue
					}
					visited[r.FromEntityID] = neighborName
					next = append(next, r.FromEntityID)
				}
			}
		}
		frontier = next
	}

	nodes := make([]string, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, n)
	}

	return &Neighborhood{
		CentralEntity:    central.Name,
		Nodes:            nodes,
		Edges:            edges,
		TotalConnections: len(edges),
	}, nil
}

func (g *Graph) nameOf(ctx context.Context, entityID string) (string, error) {
	e, err := g.entities.Get(ctx, entityID)
	if err != nil {
		return "", err
	}
	return e.Name, nil
}
