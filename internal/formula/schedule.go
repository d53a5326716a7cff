package formula

import (
	"strings"

	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/types"
)

// SortByDependencies orders formulas so every derived reference is computed
// before the formula that consumes it (Kahn's algorithm, ties broken by
// original position). A dependency cycle degrades to the original order
// with a warning. References to formulas outside the slice are ignored;
// they resolve through the live derived map at evaluation time.
func SortByDependencies(formulas []types.Formula, parsed []*Parsed) []int {
	n := len(formulas)
	order := make([]int, 0, n)

	// producer: lowercased logicNameKey -> formula index
	producer := make(map[string]int, n)
	for i, f := range formulas {
		producer[strings.ToLower(f.LogicNameKey)] = i
	}

	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, p := range parsed {
		for _, ref := range p.DerivedRefs {
			j, ok := producer[strings.ToLower(ref)]
			if !ok || j == i {
				continue
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	// Kahn with a linear scan for the smallest zero-indegree index: formula
	// lists are short, determinism matters more than asymptotics.
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			debug.Warnf("formula dependency cycle detected, keeping original order\n")
			rest := make([]int, 0, n)
			for i := 0; i < n; i++ {
				if !done[i] {
					rest = append(rest, i)
				}
			}
			return append(order, rest...)
		}
		done[next] = true
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order
}
