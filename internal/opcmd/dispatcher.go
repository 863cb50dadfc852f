package opcmd

import (
	"context"
	"fmt"

	"github.com/hulanet/fabric-control/internal/models"
)

type Resetter interface {
	RequestFullReset(table string)
}

// Dispatcher routes validated commands to the per-switch reconcilers.
type Dispatcher struct {
	resetters map[models.SwitchID]Resetter
}

func NewDispatcher(resetters map[models.SwitchID]Resetter) *Dispatcher {
	return &Dispatcher{resetters: resetters}
}

func (d *Dispatcher) HandleCommand(ctx context.Context, switchID models.SwitchID, cmd Command) error {
	if cmd.Op != "clear" {
		return fmt.Errorf("unsupported operator command op %q", cmd.Op)
	}
	resetter, exists := d.resetters[switchID]
	if !exists {
		return fmt.Errorf("command targets unknown switch %s", switchID)
	}
	resetter.RequestFullReset(cmd.Table)
	return nil
}
