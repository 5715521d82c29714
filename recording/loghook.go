package recording

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sarchlab/servertiming/hooking"
)

// LogHook writes the recorder activity to a logger at debug level.
type LogHook struct {
	logger log.Logger
}

// NewLogHook creates a LogHook that logs to logger.
func NewLogHook(logger log.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Func logs recorded calls and buffer clears.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case HookPosCallEnd:
		evt := ctx.Item.(CallEvent)
		level.Debug(h.logger).Log(
			"msg", "call recorded",
			"func", evt.Func.Name(),
			"duration", evt.Duration(),
		)
	case HookPosClear:
		level.Debug(h.logger).Log(
			"msg", "event buffer cleared",
			"discarded", ctx.Item,
		)
	}
}
