package resolver

import (
	"fmt"
	"testing"

	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

func fakeLookup(defs map[string]*types.PackageDefinition) Lookup {
	return func(name string) (*types.PackageDefinition, error) {
		pkg, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("no such package: %s", name)
		}
		return pkg, nil
	}
}

func TestResolveOrdersDependenciesBeforeDependents(t *testing.T) {
	defs := map[string]*types.PackageDefinition{
		"app":     {Name: "app", Dependencies: []string{"libb", "liba"}},
		"liba":    {Name: "liba", Dependencies: []string{"libc"}},
		"libb":    {Name: "libb", Dependencies: []string{"libc"}},
		"libc":    {Name: "libc"},
	}

	order, err := Resolve("app", fakeLookup(defs))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}

	if pos["libc"] >= pos["liba"] || pos["libc"] >= pos["libb"] {
		t.Errorf("libc must precede both liba and libb: %v", order)
	}
	if pos["liba"] >= pos["app"] || pos["libb"] >= pos["app"] {
		t.Errorf("liba and libb must precede app: %v", order)
	}
	if order[len(order)-1] != "app" {
		t.Errorf("expected app as the last element, got %v", order)
	}

	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			t.Errorf("duplicate entry in install order: %s", name)
		}
		seen[name] = true
	}
	if len(order) != 4 {
		t.Errorf("expected 4 packages in the order, got %d: %v", len(order), order)
	}
}

func TestResolveRejectsTwoCycle(t *testing.T) {
	defs := map[string]*types.PackageDefinition{
		"a": {Name: "a", Dependencies: []string{"b"}},
		"b": {Name: "b", Dependencies: []string{"a"}},
	}

	_, err := Resolve("a", fakeLookup(defs))
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	var cycleErr *tperrors.CycleError
	if !asCycleError(err, &cycleErr) {
		t.Errorf("expected *tperrors.CycleError, got %T: %v", err, err)
	}
}

func TestResolveSingleNodeNoDependencies(t *testing.T) {
	defs := map[string]*types.PackageDefinition{
		"standalone": {Name: "standalone"},
	}

	order, err := Resolve("standalone", fakeLookup(defs))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(order) != 1 || order[0] != "standalone" {
		t.Errorf("expected [standalone], got %v", order)
	}
}

func TestResolveMissingDependencyIsNotFoundError(t *testing.T) {
	defs := map[string]*types.PackageDefinition{
		"app": {Name: "app", Dependencies: []string{"ghost"}},
	}

	_, err := Resolve("app", fakeLookup(defs))
	if err == nil {
		t.Fatal("expected an error for a missing dependency")
	}
	var notFound *tperrors.NotFoundError
	if !asNotFoundError(err, &notFound) {
		t.Errorf("expected *tperrors.NotFoundError, got %T: %v", err, err)
	}
}

func TestFindDependents(t *testing.T) {
	all := []*types.PackageDefinition{
		{Name: "app", Dependencies: []string{"libc"}},
		{Name: "tool", Dependencies: []string{"libc"}},
		{Name: "libc"},
	}

	dependents := FindDependents("libc", all)
	if len(dependents) != 2 {
		t.Fatalf("expected 2 dependents, got %v", dependents)
	}
}

func asCycleError(err error, target **tperrors.CycleError) bool {
	ce, ok := err.(*tperrors.CycleError)
	if ok {
		*target = ce
	}
	return ok
}

func asNotFoundError(err error, target **tperrors.NotFoundError) bool {
	nf, ok := err.(*tperrors.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
