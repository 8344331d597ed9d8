package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

func TestRecordSale_PropagatesUpChain(t *testing.T) {
	repo := newMemRepo()
	rootID := repo.addUser("company", 0, 20, true)
	grand := repo.addUser("grand", rootID, 5, true)
	sponsor := repo.addUser("sponsor", grand, 2, true)
	buyer := repo.addUser("buyer", sponsor, 0, false)

	svc := NewService(repo, nil, nil)

	if err := svc.RecordSale(context.Background(), buyer, dec("150")); err != nil {
		t.Fatalf("RecordSale error: %v", err)
	}

	b := repo.users[buyer]
	if !b.Sales.Personal.Equal(dec("150")) {
		t.Fatalf("buyer personal sales = %s, want 150", b.Sales.Personal)
	}

	sp := repo.users[sponsor]
	if !sp.Sales.DirectSponsor.Equal(dec("150")) {
		t.Fatalf("sponsor direct sales = %s, want 150", sp.Sales.DirectSponsor)
	}
	if !sp.Sales.Group.IsZero() {
		t.Fatalf("sponsor group sales = %s, want 0", sp.Sales.Group)
	}

	for _, id := range []int64{grand, rootID} {
		u := repo.users[id]
		if !u.Sales.Group.Equal(dec("150")) {
			t.Fatalf("user %d group sales = %s, want 150", id, u.Sales.Group)
		}
		if !u.Sales.DirectSponsor.IsZero() {
			t.Fatalf("user %d direct sales = %s, want 0", id, u.Sales.DirectSponsor)
		}
	}
}

func TestRecordSale_InvalidAmount(t *testing.T) {
	repo := newMemRepo()
	repo.addUser("company", 0, 20, true)
	svc := NewService(repo, nil, nil)

	err := svc.RecordSale(context.Background(), 1, dec("-5"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecordSale_AncestorFailurePropagates(t *testing.T) {
	repo := newMemRepo()
	rootID := repo.addUser("company", 0, 20, true)
	sponsor := repo.addUser("sponsor", rootID, 1, true)
	buyer := repo.addUser("buyer", sponsor, 0, false)
	repo.failSalesFor[sponsor] = true

	svc := NewService(repo, nil, nil)

	if err := svc.RecordSale(context.Background(), buyer, dec("100")); err == nil {
		t.Fatalf("expected error when ancestor update fails")
	}
}

func TestBuildSubtree(t *testing.T) {
	repo := newMemRepo()
	rootID := repo.addUser("company", 0, 20, true)
	a := repo.addUser("a", rootID, 3, true)
	b := repo.addUser("b", a, 1, false)
	c := repo.addUser("c", a, 1, false)
	d := repo.addUser("d", b, 0, false)
	repo.addUser("outside", rootID, 0, false)

	svc := NewService(repo, nil, nil)

	tree, err := svc.BuildSubtree(context.Background(), a)
	if err != nil {
		t.Fatalf("BuildSubtree error: %v", err)
	}

	if len(tree.Nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(tree.Nodes))
	}

	var subtreeRoot *model.TreeNode
	ids := make(map[int64]bool, len(tree.Nodes))
	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		ids[n.ID] = true
		if n.ID == a {
			subtreeRoot = n
		}
	}
	for _, want := range []int64{a, b, c, d} {
		if !ids[want] {
			t.Fatalf("node %d missing from subtree", want)
		}
	}
	if subtreeRoot == nil || subtreeRoot.ParentID != nil {
		t.Fatalf("subtree root must not carry an incoming parent")
	}

	if len(tree.Edges) != 3 {
		t.Fatalf("edges = %d, want 3", len(tree.Edges))
	}
	for _, e := range tree.Edges {
		if !ids[e.From] || !ids[e.To] {
			t.Fatalf("edge %d->%d leaves the subtree", e.From, e.To)
		}
		if e.To == a {
			t.Fatalf("subtree root must have no incoming edge")
		}
	}
}
