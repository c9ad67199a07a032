//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/schema"
	"github.com/tickforge/ecsengine/internal/core/tick"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/world"
)

// Coordinator is the assembled dependency graph a coordinator process
// needs to run: store, query engine, schema registry, and tick
// orchestrator, all bound to one transport.Bus.
type Coordinator struct {
	Store        *world.Store
	Engine       *query.Engine
	SchemaReg    *schema.Registry
	Orchestrator *tick.Orchestrator
	Logger       *log.Logger
}

// ProvideCoordinator wires a Coordinator over an already-constructed bus
// and schema store.
func ProvideCoordinator(bus transport.Bus, schemaStore schema.Store, cfg tick.Config, level log.Level) (*Coordinator, error) {
	wire.Build(
		log.New,
		world.New,
		query.New,
		schema.New,
		tick.New,
		wire.Struct(new(Coordinator), "*"),
	)
	return &Coordinator{}, nil
}
