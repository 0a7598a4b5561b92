// Package workflow runs the iterative solver loop: a planner picks the next
// solver each round, every completed round is recorded in State, and an
// aggregator turns the accumulated outputs into one final answer.
package workflow

import (
	"slices"
	"time"
)

// Task is the sub-task a planner hands to a solver.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Step is what one solver invocation consumed and produced.
type Step struct {
	Input   string        `json:"input"`
	Output  string        `json:"output"`
	Elapsed time.Duration `json:"elapsed"`
	// Terminal marks a step that fully resolves the request.
	Terminal bool `json:"terminal,omitempty"`
}

// Record is one completed round.
type Record struct {
	Round  int    `json:"round"`
	Solver string `json:"solver"`
	Task   Task   `json:"task"`
	Step
}

// State holds the immutable request and the per-solver history of completed
// rounds. Only the loop that owns a State appends to it.
type State struct {
	request   string
	records   []Record
	bySolver  map[string][]int
	solverSeq []string
}

func NewState(request string) *State {
	return &State{
		request:  request,
		bySolver: map[string][]int{},
	}
}

func (s *State) Request() string {
	return s.request
}

// History returns the rounds recorded for solver in execution order.
func (s *State) History(solver string) []Record {
	indexes := s.bySolver[solver]
	out := make([]Record, len(indexes))
	for i, index := range indexes {
		out[i] = s.records[index]
	}
	return out
}

// Records returns every recorded round in execution order.
func (s *State) Records() []Record {
	return slices.Clone(s.records)
}

// Solvers returns the names of solvers with recorded rounds, in order of first use.
func (s *State) Solvers() []string {
	return slices.Clone(s.solverSeq)
}

// Outputs returns every recorded output in execution order, so the most
// recent and most informative output comes last.
func (s *State) Outputs() []string {
	out := make([]string, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].Output
	}
	return out
}

func (s *State) Len() int {
	return len(s.records)
}

func (s *State) append(record Record) {
	if _, seen := s.bySolver[record.Solver]; !seen {
		s.solverSeq = append(s.solverSeq, record.Solver)
	}
	s.bySolver[record.Solver] = append(s.bySolver[record.Solver], len(s.records))
	s.records = append(s.records, record)
}
