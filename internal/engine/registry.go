package engine

import (
	"fmt"
	"math"
	"sync"
)

// weightTolerance bounds floating point drift in the weight sum.
const weightTolerance = 0.01

// Registry is an ordered collection of analyzer descriptors whose weights
// always sum to 1.0 (within weightTolerance) when non-empty.
//
// Registration order is preserved and becomes the iteration order of every
// Snapshot, which the aggregator relies on for stable tie-breaking.
//
// Sequential Register calls and a single RegisterBatch call with the same
// descriptors do not produce the same weights: Register rescales the
// existing set once per call, RegisterBatch rescales it once for the whole
// batch using the aggregate new weight. RegisterBatch is the one to use for
// attaching a family of related analyzers.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

// NewRegistry creates a registry with the given initial descriptors. The
// initial weights are taken as-is and must already sum to 1.0.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
		if d.Weight < 0 || d.Weight > 1 {
			return nil, fmt.Errorf("%w: %s has weight %v", ErrInvalidWeight, d.Name, d.Weight)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAnalyzer, d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	initial := append([]Descriptor(nil), descs...)
	if len(initial) > 0 {
		if err := checkWeightSum(initial); err != nil {
			return nil, err
		}
	}
	return &Registry{descriptors: initial}, nil
}

// Register adds one analyzer. Existing weights are scaled by
// (1 - weight) / currentTotal so the new set sums to 1.0 again.
// On an empty registry nothing can absorb the difference, so the first
// descriptor must carry weight 1.0.
func (r *Registry) Register(d Descriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}
	if !(d.Weight > 0 && d.Weight <= 1) {
		return fmt.Errorf("%w: %s has weight %v, want (0, 1]", ErrInvalidWeight, d.Name, d.Weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(d.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateAnalyzer, d.Name)
	}

	next, err := rescale(r.descriptors, d.Weight)
	if err != nil {
		return err
	}
	next = append(next, d)
	if err := checkWeightSum(next); err != nil {
		return err
	}
	r.descriptors = next
	return nil
}

// RegisterBatch adds several analyzers at once. The rescale factor
// (1 - sum of new weights) / currentTotal is computed once from the aggregate new weight.
// The batch is applied atomically: on error the registry is unchanged.
func (r *Registry) RegisterBatch(ds []Descriptor) error {
	if len(ds) == 0 {
		return nil
	}

	var added float64
	batch := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		if err := validateDescriptor(d); err != nil {
			return err
		}
		if !(d.Weight > 0 && d.Weight <= 1) {
			return fmt.Errorf("%w: %s has weight %v, want (0, 1]", ErrInvalidWeight, d.Name, d.Weight)
		}
		if _, dup := batch[d.Name]; dup {
			return fmt.Errorf("%w: %s appears twice in batch", ErrDuplicateAnalyzer, d.Name)
		}
		batch[d.Name] = struct{}{}
		added += d.Weight
	}
	if added > 1+1e-9 {
		return fmt.Errorf("%w: batch weights sum to %v, want at most 1", ErrInvalidWeight, added)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range ds {
		if r.indexOf(d.Name) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateAnalyzer, d.Name)
		}
	}

	next, err := rescale(r.descriptors, added)
	if err != nil {
		return err
	}
	next = append(next, ds...)
	if err := checkWeightSum(next); err != nil {
		return err
	}
	r.descriptors = next
	return nil
}

// Remove drops an analyzer and divides the remaining weights by their
// total so they sum to 1.0 again.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAnalyzer, name)
	}

	remaining := make([]Descriptor, 0, len(r.descriptors)-1)
	remaining = append(remaining, r.descriptors[:idx]...)
	remaining = append(remaining, r.descriptors[idx+1:]...)

	if len(remaining) == 0 {
		r.descriptors = remaining
		return nil
	}

	total := sumWeights(remaining)
	if total <= 0 {
		return fmt.Errorf("%w: removing %s leaves only zero-weight analyzers", ErrWeightInvariant, name)
	}
	for i := range remaining {
		remaining[i].Weight /= total
	}
	if err := checkWeightSum(remaining); err != nil {
		return err
	}
	r.descriptors = remaining
	return nil
}

// Snapshot returns an immutable copy of the current descriptors for use by
// one aggregation call. Later registry mutations do not affect it.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newSnapshot(r.descriptors)
}

// Len returns the number of registered analyzers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

func (r *Registry) indexOf(name string) int {
	for i, d := range r.descriptors {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// rescale returns a copy of current with every weight multiplied by
// (1 - incoming) / total(current).
func rescale(current []Descriptor, incoming float64) ([]Descriptor, error) {
	next := make([]Descriptor, len(current), len(current)+1)
	copy(next, current)
	if len(next) == 0 {
		return next, nil
	}
	total := sumWeights(next)
	if total <= 0 {
		return nil, fmt.Errorf("%w: existing analyzers carry no weight to rebalance", ErrWeightInvariant)
	}
	factor := (1 - incoming) / total
	for i := range next {
		next[i].Weight *= factor
	}
	return next, nil
}

func sumWeights(ds []Descriptor) float64 {
	var total float64
	for _, d := range ds {
		total += d.Weight
	}
	return total
}

func checkWeightSum(ds []Descriptor) error {
	total := sumWeights(ds)
	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrWeightInvariant, total)
	}
	return nil
}

func validateDescriptor(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	if d.Unit == nil {
		return fmt.Errorf("%w: %s has no unit", ErrInvalidDescriptor, d.Name)
	}
	if math.IsNaN(d.Weight) || math.IsInf(d.Weight, 0) {
		return fmt.Errorf("%w: %s has non-finite weight", ErrInvalidWeight, d.Name)
	}
	for label, v := range map[string]float64{
		"moderate": d.Thresholds.Moderate,
		"severe":   d.Thresholds.Severe,
		"critical": d.Thresholds.Critical,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
			return fmt.Errorf("%w: %s %s threshold %v outside 0-100", ErrInvalidDescriptor, d.Name, label, v)
		}
	}
	return nil
}

// Snapshot is a frozen, ordered view of the registry.
type Snapshot struct {
	descriptors []Descriptor
	index       map[string]int
}

func newSnapshot(ds []Descriptor) Snapshot {
	s := Snapshot{
		descriptors: append([]Descriptor(nil), ds...),
		index:       make(map[string]int, len(ds)),
	}
	for i, d := range s.descriptors {
		s.index[d.Name] = i
	}
	return s
}

// NewSnapshot builds a snapshot directly from descriptors without the
// registry's weight checks. Useful for scoring precomputed results.
func NewSnapshot(ds ...Descriptor) Snapshot {
	return newSnapshot(ds)
}

// Descriptors returns a copy of the descriptors in registration order.
func (s Snapshot) Descriptors() []Descriptor {
	return append([]Descriptor(nil), s.descriptors...)
}

// Lookup returns the descriptor registered under name.
func (s Snapshot) Lookup(name string) (Descriptor, bool) {
	i, ok := s.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.descriptors[i], true
}

// Len returns the number of descriptors.
func (s Snapshot) Len() int { return len(s.descriptors) }

// Weights returns name -> weight.
func (s Snapshot) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.descriptors))
	for _, d := range s.descriptors {
		out[d.Name] = d.Weight
	}
	return out
}
