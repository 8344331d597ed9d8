package service

import (
	"context"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// BuildSubtree материализует поддерево рефералов пользователя для отображения.
// Узлы дедуплицируются по идентификатору; рёбра строятся только между узлами
// поддерева, входящее ребро самого корня поддерева не создаётся.
// Операция только читает данные и не затрагивает кошельки.
func (s *Service) BuildSubtree(ctx context.Context, rootUserID int64) (*model.ReferralTree, error) {
	rows, err := s.repo.GetDescendants(ctx, rootUserID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(rows))
	tree := &model.ReferralTree{
		Nodes: make([]model.TreeNode, 0, len(rows)),
		Edges: make([]model.TreeEdge, 0, len(rows)),
	}

	for _, n := range rows {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true

		if n.ID == rootUserID {
			// Родитель корня поддерева лежит вне поддерева.
			n.ParentID = nil
		}
		tree.Nodes = append(tree.Nodes, n)
	}

	for _, n := range tree.Nodes {
		if n.ParentID == nil {
			continue
		}
		if !seen[*n.ParentID] {
			continue
		}
		tree.Edges = append(tree.Edges, model.TreeEdge{From: *n.ParentID, To: n.ID})
	}

	return tree, nil
}
