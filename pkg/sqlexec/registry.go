package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	"github.com/plaenen/cartflow/pkg/command"
)

// Procedure is a named unit of SQL run inside one transaction.
type Procedure struct {
	// Name as commands refer to it, e.g. [dbo].[Customer_Update].
	Name string

	// Params lists the accepted parameter names. Unlisted parameters are
	// rejected with ErrInvalidParameter.
	Params []string

	Run func(ctx context.Context, tx *sql.Tx, args Args) error
}

// bind checks params against the declared names and returns them keyed by
// @name.
func (p *Procedure) bind(params map[string]any) (Args, error) {
	args := make(Args, len(params))
	for k, v := range params {
		name := command.ParamName(k)
		if !slices.ContainsFunc(p.Params, func(declared string) bool {
			return command.ParamName(declared) == name
		}) {
			return nil, &ProcedureError{Procedure: p.Name, Param: name, Err: ErrInvalidParameter}
		}
		args[name] = v
	}
	return args, nil
}

// Registry maps procedure names to procedures.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*Procedure
}

// NewRegistry returns a registry holding procs.
func NewRegistry(procs ...*Procedure) *Registry {
	r := &Registry{procs: make(map[string]*Procedure)}
	for _, p := range procs {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a procedure.
func (r *Registry) Register(p *Procedure) {
	if p == nil || p.Name == "" || p.Run == nil {
		panic(fmt.Sprintf("sqlexec: invalid procedure %v", p))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p.Name] = p
}

// Lookup returns the procedure called name.
func (r *Registry) Lookup(name string) (*Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
