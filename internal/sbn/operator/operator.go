// Package operator implements the operator-facing command surface
// spec.md §6 describes: reset one peer, reset every peer, or dump the
// configured tables. Both the in-band command-packet handler (external
// collaborator, out of scope here) and the debug HTTP front end
// (internal/sbn/httpdebug) dispatch through this same narrow surface so
// the two front ends can never drift in behavior.
package operator

import (
	"fmt"

	"github.com/sbn-project/sbn/internal/sbn/engine"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
)

// Commands dispatches operator requests against one bound Engine.
type Commands struct {
	engine *engine.Engine
}

// New binds a Commands surface to eng.
func New(eng *engine.Engine) *Commands {
	return &Commands{engine: eng}
}

// ResetPeer resets the peer identified by id, returning an error if no
// such peer is configured.
func (c *Commands) ResetPeer(id ids.ProcessorId) error {
	peer := c.engine.Table.ByProcessorId(id)
	if peer == nil {
		return fmt.Errorf("%w: no peer with processor id %d", sbnerrors.ErrConfigInvalid, id)
	}
	return c.engine.ResetPeer(peer)
}

// ResetAll resets every configured peer, returning one error per peer
// that failed to reset.
func (c *Commands) ResetAll() []error {
	return c.engine.ResetAll()
}

// DumpTables returns the current peer/host table snapshot.
func (c *Commands) DumpTables() engine.Snapshot {
	return c.engine.DumpTables()
}
