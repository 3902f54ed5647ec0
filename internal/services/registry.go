package services

import (
	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/monitor"
	"github.com/fyrsmithlabs/taskd/internal/pipeline"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/vcs"
)

// Registry provides access to all taskd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Tasks() task.Store
	Docs() docstore.Store
	Files() *docstore.FileWriter
	Roles() *roles.Resolver
	Completion() completion.Client
	VCS() vcs.Client
	Recorder() *knowledge.Recorder
	Executor() *steps.Executor
	Orchestrator() *pipeline.Orchestrator
	Monitor() *monitor.Monitor
}

// Options configures the registry with service instances.
type Options struct {
	Tasks        task.Store
	Docs         docstore.Store
	Files        *docstore.FileWriter
	Roles        *roles.Resolver
	Completion   completion.Client
	VCS          vcs.Client
	Recorder     *knowledge.Recorder
	Executor     *steps.Executor
	Orchestrator *pipeline.Orchestrator
	Monitor      *monitor.Monitor
}

// registry is the concrete implementation of Registry.
type registry struct {
	tasks        task.Store
	docs         docstore.Store
	files        *docstore.FileWriter
	roles        *roles.Resolver
	completion   completion.Client
	vcs          vcs.Client
	recorder     *knowledge.Recorder
	executor     *steps.Executor
	orchestrator *pipeline.Orchestrator
	monitor      *monitor.Monitor
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		tasks:        opts.Tasks,
		docs:         opts.Docs,
		files:        opts.Files,
		roles:        opts.Roles,
		completion:   opts.Completion,
		vcs:          opts.VCS,
		recorder:     opts.Recorder,
		executor:     opts.Executor,
		orchestrator: opts.Orchestrator,
		monitor:      opts.Monitor,
	}
}

func (r *registry) Tasks() task.Store                    { return r.tasks }
func (r *registry) Docs() docstore.Store                 { return r.docs }
func (r *registry) Files() *docstore.FileWriter          { return r.files }
func (r *registry) Roles() *roles.Resolver               { return r.roles }
func (r *registry) Completion() completion.Client        { return r.completion }
func (r *registry) VCS() vcs.Client                      { return r.vcs }
func (r *registry) Recorder() *knowledge.Recorder        { return r.recorder }
func (r *registry) Executor() *steps.Executor            { return r.executor }
func (r *registry) Orchestrator() *pipeline.Orchestrator { return r.orchestrator }
func (r *registry) Monitor() *monitor.Monitor            { return r.monitor }
