package solver

import (
	"context"
	"sort"

	"golang-payment-matcher/internal/models"
)

// PackingProblem is a weighted set packing program: choose variables maximising
// the sum of Weights such that every element is covered at most once.
type PackingProblem struct {
	// Weights holds the objective coefficient of every variable
	Weights []float64
	// Sets lists the element indices each variable covers
	Sets [][]int
	// Sides assigns every element to side 0 or 1; every variable must cover at
	// least one element of each side
	Sides []int
	// Initial is an optional feasible selection used as the first incumbent
	Initial []int
}

// Elements returns the number of elements of the program
func (p *PackingProblem) Elements() int {
	return len(p.Sides)
}

// PackingSolution is the selection returned by a PackingSolver
type PackingSolution struct {
	Selected  []int
	Objective float64
	BestBound float64
	Status    models.SolveStatus
	Nodes     int
}

// PackingSolver solves weighted set packing programs. Implementations must
// return their best feasible solution when ctx expires instead of an error.
type PackingSolver interface {
	SolvePacking(ctx context.Context, problem *PackingProblem, limits Limits) (*PackingSolution, error)
}

// BranchAndBound is a depth-first branch and bound over the connected
// components of a packing program.
type BranchAndBound struct {
	// CheckEvery is how many nodes are explored between deadline checks
	CheckEvery int
}

// NewBranchAndBound creates the default exact packing solver
func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{CheckEvery: 256}
}

// SolvePacking solves every connected component independently. Components left
// unfinished at the deadline keep their incumbent and the solution is reported
// with StatusTimeLimit.
func (bb *BranchAndBound) SolvePacking(ctx context.Context, problem *PackingProblem, limits Limits) (*PackingSolution, error) {
	solution := &PackingSolution{Status: models.StatusOptimal}
	if limits.RelativeGap > 0 {
		solution.Status = models.StatusGapLimit
	}

	initial := make(map[int]bool, len(problem.Initial))
	for _, v := range problem.Initial {
		initial[v] = true
	}

	for _, component := range components(problem) {
		search := newComponentSearch(ctx, problem, component, initial, limits.RelativeGap, bb.CheckEvery)
		completed := false
		if ctx.Err() == nil {
			completed = search.run()
		}

		solution.Nodes += search.nodes
		solution.Selected = append(solution.Selected, search.best...)
		solution.Objective += search.bestValue
		if completed {
			solution.BestBound += search.bestValue * (1 + limits.RelativeGap)
		} else {
			solution.BestBound += search.rootBound
			solution.Status = models.StatusTimeLimit
		}
	}

	if solution.BestBound < solution.Objective {
		solution.BestBound = solution.Objective
	}
	sort.Ints(solution.Selected)
	return solution, nil
}

// components groups variables that share elements, directly or transitively.
// Components are returned in order of their smallest variable index.
func components(problem *PackingProblem) [][]int {
	n := len(problem.Weights)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	firstOwner := make(map[int]int)
	for v, set := range problem.Sets {
		for _, e := range set {
			if o, ok := firstOwner[e]; ok {
				if a, b := find(o), find(v); a != b {
					parent[b] = a
				}
			} else {
				firstOwner[e] = v
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for v := 0; v < n; v++ {
		r := find(v)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], v)
	}

	out := make([][]int, len(roots))
	for i, r := range roots {
		out[i] = byRoot[r]
	}
	return out
}

// componentSearch holds the depth-first state of one component
type componentSearch struct {
	problem    *PackingProblem
	vars       []int
	used       map[int]bool
	chosen     []int
	value      float64
	best       []int
	bestValue  float64
	rootBound  float64
	gap        float64
	nodes      int
	checkEvery int
	ctx        context.Context
	expired    bool
}

func newComponentSearch(ctx context.Context, problem *PackingProblem, vars []int, initial map[int]bool, gap float64, checkEvery int) *componentSearch {
	ordered := append([]int(nil), vars...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return problem.Weights[ordered[i]] > problem.Weights[ordered[j]]
	})

	s := &componentSearch{
		problem:    problem,
		vars:       ordered,
		used:       make(map[int]bool),
		gap:        gap,
		checkEvery: checkEvery,
		ctx:        ctx,
	}
	if s.checkEvery <= 0 {
		s.checkEvery = 1
	}

	for _, v := range vars {
		if initial[v] {
			s.best = append(s.best, v)
			s.bestValue += problem.Weights[v]
		}
	}
	s.rootBound = s.bound(0)
	return s
}

// run explores the component and reports whether the search finished
func (s *componentSearch) run() bool {
	if len(s.vars) == 1 {
		v := s.vars[0]
		if s.problem.Weights[v] > s.bestValue {
			s.best = []int{v}
			s.bestValue = s.problem.Weights[v]
		}
		s.nodes++
		return true
	}
	s.branch(0)
	return !s.expired
}

func (s *componentSearch) branch(pos int) {
	if s.expired {
		return
	}
	s.nodes++
	if s.nodes%s.checkEvery == 0 && s.ctx.Err() != nil {
		s.expired = true
		return
	}

	for pos < len(s.vars) && s.conflicts(s.vars[pos]) {
		pos++
	}
	if pos == len(s.vars) {
		if s.value > s.bestValue {
			s.bestValue = s.value
			s.best = append([]int(nil), s.chosen...)
		}
		return
	}

	if s.value+s.bound(pos) <= s.bestValue*(1+s.gap)+1e-12 {
		return
	}

	v := s.vars[pos]
	s.take(v)
	s.branch(pos + 1)
	s.release(v)

	s.branch(pos + 1)
}

func (s *componentSearch) conflicts(v int) bool {
	for _, e := range s.problem.Sets[v] {
		if s.used[e] {
			return true
		}
	}
	return false
}

func (s *componentSearch) take(v int) {
	for _, e := range s.problem.Sets[v] {
		s.used[e] = true
	}
	s.chosen = append(s.chosen, v)
	s.value += s.problem.Weights[v]
}

func (s *componentSearch) release(v int) {
	for _, e := range s.problem.Sets[v] {
		delete(s.used, e)
	}
	s.chosen = s.chosen[:len(s.chosen)-1]
	s.value -= s.problem.Weights[v]
}

// bound returns an upper bound on what the free variables from pos onwards can
// add: for each side, every free element contributes the largest share
// weight/(elements of that side) among the free variables covering it. Any
// packing is bounded by either side's sum. A side is only usable when every
// free variable covers one of its elements.
func (s *componentSearch) bound(pos int) float64 {
	var share [2]map[int]float64
	share[0] = make(map[int]float64)
	share[1] = make(map[int]float64)
	usable := [2]bool{true, true}
	total := 0.0

	for _, v := range s.vars[pos:] {
		if s.conflicts(v) {
			continue
		}
		total += s.problem.Weights[v]

		var count [2]int
		for _, e := range s.problem.Sets[v] {
			count[s.problem.Sides[e]]++
		}
		for side := 0; side < 2; side++ {
			if count[side] == 0 {
				usable[side] = false
			}
		}
		for _, e := range s.problem.Sets[v] {
			side := s.problem.Sides[e]
			w := s.problem.Weights[v] / float64(count[side])
			if w > share[side][e] {
				share[side][e] = w
			}
		}
	}

	best := total
	for side := 0; side < 2; side++ {
		if !usable[side] {
			continue
		}
		sum := 0.0
		for _, w := range share[side] {
			sum += w
		}
		if sum < best {
			best = sum
		}
	}
	return best
}
