// Package operation defines the pluggable executor contract and the
// registry that routes an operation name to exactly one executor.
package operation

import (
	"context"
	"fmt"
	"sort"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/queue"
)

// Input is one artifact materialized to a local file for the executor.
type Input struct {
	Ref  job.ArtifactRef
	Path string
}

// Output is one produced artifact, still on local disk. For batch
// operations Row carries the dataset row index the output belongs to.
type Output struct {
	Path string
	Role string
	Row  int
}

// Request is everything an executor receives: materialized inputs in the
// caller-declared order, opaque parameters, and a scratch directory owned
// by the attempt.
type Request struct {
	JobID      string
	Inputs     []Input
	Parameters map[string]string
	WorkDir    string
}

// Result is the successful outcome of an execution. Outputs are ordered;
// for batch operations the order must match dataset row order. RowOutcomes
// is populated only by executors that opt into per-row reporting.
type Result struct {
	Outputs     []Output
	RowOutcomes []job.RowOutcome
}

// Executor runs one named operation over locally materialized inputs.
// Failures should be *job.Error values so the coordinator can classify
// them; any other error is treated as a retryable crash.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// Descriptor declares a registered capability: its name, the input roles
// it requires, and its executor.
type Descriptor struct {
	Name string

	// Roles lists required input roles; each must appear exactly once.
	Roles []string

	// VariadicRole, when set, replaces Roles: every input must carry this
	// role and at least MinInputs must be present (merge operations).
	VariadicRole string
	MinInputs    int

	// PerRowOutcomes marks executors that report per-row results for
	// batch operations instead of failing the whole job.
	PerRowOutcomes bool

	Executor Executor
}

// ValidateInputs checks the declared inputs against the descriptor. The
// returned error is a *job.Error with kind validation.
func (d Descriptor) ValidateInputs(inputs []job.ArtifactRef) error {
	if d.VariadicRole != "" {
		min := d.MinInputs
		if min <= 0 {
			min = 2
		}
		if len(inputs) < min {
			return job.Errf(job.KindValidation, "%s requires at least %d %q inputs, got %d",
				d.Name, min, d.VariadicRole, len(inputs))
		}
		for i, in := range inputs {
			if in.Role != d.VariadicRole {
				return job.Errf(job.KindValidation, "%s input %d has role %q, want %q",
					d.Name, i, in.Role, d.VariadicRole)
			}
		}
		return nil
	}

	seen := make(map[string]int, len(inputs))
	for _, in := range inputs {
		seen[in.Role]++
	}
	for _, role := range d.Roles {
		switch seen[role] {
		case 0:
			return job.Errf(job.KindValidation, "%s requires input role %q", d.Name, role)
		case 1:
		default:
			return job.Errf(job.KindValidation, "%s input role %q declared %d times", d.Name, role, seen[role])
		}
	}
	return nil
}

// Registry maps operation names to descriptors. It is populated once at
// process start and immutable afterwards.
type Registry struct {
	descriptors map[string]Descriptor
}

func NewRegistry(descs ...Descriptor) (*Registry, error) {
	m := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("operation with empty name")
		}
		if d.Executor == nil {
			return nil, fmt.Errorf("operation %q has no executor", d.Name)
		}
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("operation %q registered twice", d.Name)
		}
		m[d.Name] = d
	}
	return &Registry{descriptors: m}, nil
}

// Resolve looks up the descriptor for an operation name.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the sorted registered operation names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Categories returns the sorted set of queue categories the registered
// operations belong to.
func (r *Registry) Categories() []string {
	set := make(map[string]struct{})
	for name := range r.descriptors {
		set[queue.Category(name)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
