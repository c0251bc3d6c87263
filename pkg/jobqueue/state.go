package jobqueue

import (
	"fmt"
	"slices"
)

// State is the complete persisted queue state.
// A job belongs to exactly one of Running or Queued.
type State struct {
	Running []*Job
	Queued  []*Job
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Running: []*Job{},
		Queued:  []*Job{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Running: make([]*Job, 0, len(s.Running)),
		Queued:  make([]*Job, 0, len(s.Queued)),
	}
	for _, j := range s.Running {
		c.Running = append(c.Running, j.Clone())
	}
	for _, j := range s.Queued {
		c.Queued = append(c.Queued, j.Clone())
	}
	return c
}

// Validate checks every job and the uniqueness of ids across both sequences.
func (s *State) Validate() error {
	seen := make(map[int64]struct{}, len(s.Running)+len(s.Queued))
	check := func(set string, jobs []*Job) error {
		for i, j := range jobs {
			if j == nil {
				return fmt.Errorf("%w: %s[%d] is null", ErrMalformedState, set, i)
			}
			if err := j.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", set, i, err)
			}
			if _, dup := seen[j.ID]; dup {
				return fmt.Errorf("%s[%d]: %w: %d", set, i, ErrDuplicateID, j.ID)
			}
			seen[j.ID] = struct{}{}
		}
		return nil
	}
	if err := check("running", s.Running); err != nil {
		return err
	}
	return check("queued", s.Queued)
}

// MaxID returns the largest id in the state, or 0 when it is empty.
func (s *State) MaxID() int64 {
	var maxID int64
	for _, j := range s.Running {
		maxID = max(maxID, j.ID)
	}
	for _, j := range s.Queued {
		maxID = max(maxID, j.ID)
	}
	return maxID
}

// NextID returns the id the next enqueued job receives.
func (s *State) NextID() int64 {
	return s.MaxID() + 1
}

// HasID reports whether any job in the state holds id.
func (s *State) HasID(id int64) bool {
	return s.indexRunning(id) >= 0 || slices.IndexFunc(s.Queued, func(j *Job) bool { return j.ID == id }) >= 0
}

// IsQueueFree reports whether no running job belongs to queueName.
func (s *State) IsQueueFree(queueName string) bool {
	return !slices.ContainsFunc(s.Running, func(j *Job) bool { return j.QueueName == queueName })
}

// IsQueued reports whether a queued job performs action.
func (s *State) IsQueued(action Action) bool {
	return slices.ContainsFunc(s.Queued, func(j *Job) bool { return j.Action() == action })
}

// IsRunning reports whether a running job performs action.
func (s *State) IsRunning(action Action) bool {
	return slices.ContainsFunc(s.Running, func(j *Job) bool { return j.Action() == action })
}

// RunningJob returns the running job with id, or nil.
func (s *State) RunningJob(id int64) *Job {
	if i := s.indexRunning(id); i >= 0 {
		return s.Running[i]
	}
	return nil
}

// RemoveRunning drops the running job with id and reports whether it was present.
func (s *State) RemoveRunning(id int64) bool {
	i := s.indexRunning(id)
	if i < 0 {
		return false
	}
	s.Running = slices.Delete(s.Running, i, i+1)
	return true
}

// Promote walks the queued jobs in order and moves each job accepted by
// inScope to running when its queue has no running occupant at that moment.
// Jobs admitted earlier in the walk count as occupants for later ones, so a
// single call admits at most one job per free queue name.
func (s *State) Promote(inScope func(*Job) bool) []*Job {
	var promoted []*Job
	remaining := make([]*Job, 0, len(s.Queued))
	for _, j := range s.Queued {
		if (inScope == nil || inScope(j)) && s.IsQueueFree(j.QueueName) {
			s.Running = append(s.Running, j)
			promoted = append(promoted, j)
			continue
		}
		remaining = append(remaining, j)
	}
	s.Queued = remaining
	return promoted
}

// SortQueued orders queued jobs by AddedAt, keeping insertion order for ties.
func (s *State) SortQueued() {
	slices.SortStableFunc(s.Queued, compareAddedAt)
}

// SortRunning orders running jobs by AddedAt, keeping insertion order for ties.
func (s *State) SortRunning() {
	slices.SortStableFunc(s.Running, compareAddedAt)
}

func (s *State) indexRunning(id int64) int {
	return slices.IndexFunc(s.Running, func(j *Job) bool { return j.ID == id })
}

func compareAddedAt(a, b *Job) int {
	return a.AddedAt.Compare(b.AddedAt)
}
