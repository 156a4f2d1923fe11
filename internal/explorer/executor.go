package explorer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/web-state-crawler/internal/browser"
)

// Executor translates one abstract action into a concrete operation against
// the tagged element. One attempt per call; the driver owns the retry loop.
type Executor interface {
	Execute(ctx context.Context, action Action) Outcome
}

type browserExecutor struct {
	ctrl   browser.Controller
	logger zerolog.Logger
}

func NewExecutor(ctrl browser.Controller, logger zerolog.Logger) Executor {
	return &browserExecutor{ctrl: ctrl, logger: logger}
}

func (e *browserExecutor) Execute(ctx context.Context, action Action) Outcome {
	out := Outcome{Type: action.Type, TargetID: action.TargetID}

	switch action.Type {
	case ActionNoop:
		out.Reason = "noop"
		return out
	case ActionClick, ActionNavigate, ActionFill:
	default:
		out.Reason = fmt.Sprintf("unknown_action_type: %s", action.Type)
		return out
	}
	if action.TargetID == nil {
		out.Reason = "no_target_id"
		return out
	}

	id := *action.TargetID
	var err error
	switch action.Type {
	case ActionFill:
		err = e.ctrl.FillTagged(ctx, id, action.FillValue)
	default:
		// navigate is a click expected to change the view
		err = e.ctrl.ClickTagged(ctx, id)
	}
	if err != nil {
		out.Reason = fmt.Sprintf("%s_error: %v", action.Type, err)
		e.logger.Debug().Int("target_id", id).Str("type", action.Type).Err(err).Msg("action failed")
		return out
	}
	out.OK = true
	return out
}
