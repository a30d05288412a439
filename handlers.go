package repbot

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/msgs"
)

// CommandResult is the reply of configuration and enable requests. RetCode
// is 1 when any entry of a batch failed.
type CommandResult struct {
	Success bool
	RetCode int
}

// Handlers turn inbound commands into hardware jobs. Every error stays
// within the request it belongs to.
type Handlers struct {
	session  *Session
	worker   *Worker
	registry *Registry
	logger   *log.Logger
}

func NewHandlers(session *Session, worker *Worker, registry *Registry, logger *log.Logger) *Handlers {
	return &Handlers{
		session:  session,
		worker:   worker,
		registry: registry,
		logger:   logger,
	}
}

// writable checks that channel may be driven right now. Runs on the worker,
// so a disable queued ahead of the write is always observed.
func (h *Handlers) writable(channel int) error {
	if !h.session.Enabled() {
		return ErrDisabled
	}
	if _, ok := h.registry.digitalPort(channel); !ok {
		return errors.Wrapf(ErrInvalidChannel, "digital channel %d", channel)
	}
	if mode := h.registry.CurrentMode(channel); mode != drivers.ModeOutput {
		return errors.Wrapf(ErrPinModeMismatch, "channel %d is configured as %s", channel, mode)
	}
	return nil
}

func (h *Handlers) HandleDigitalWrite(ctx context.Context, channel int, value bool) error {
	err := h.worker.Do(ctx, PriorityCommand, func(hw drivers.Hardware) error {
		if err := h.writable(channel); err != nil {
			return err
		}
		return errors.Wrapf(hw.WriteDigital(channel, value), "digital write to channel %d", channel)
	})
	if errors.Is(err, ErrDisabled) {
		h.logger.Warn("digital write ignored, hardware disabled", "channel", channel)
	} else if err != nil {
		h.logger.Error("digital write failed", "channel", channel, "value", value, "err", err)
	}
	return err
}

// HandlePwmWrite leaves range checks to the hardware.
func (h *Handlers) HandlePwmWrite(ctx context.Context, channel int, value float64) error {
	err := h.worker.Do(ctx, PriorityCommand, func(hw drivers.Hardware) error {
		if err := h.writable(channel); err != nil {
			return err
		}
		return errors.Wrapf(hw.WritePWM(channel, value), "pwm write to channel %d", channel)
	})
	if errors.Is(err, ErrDisabled) {
		h.logger.Warn("pwm write ignored, hardware disabled", "channel", channel)
	} else if err != nil {
		h.logger.Error("pwm write failed", "channel", channel, "value", value, "err", err)
	}
	return err
}

// HandleConfigureBatch applies every entry in order, one worker job each,
// and keeps going after a failure.
func (h *Handlers) HandleConfigureBatch(ctx context.Context, configs []msgs.PinConfig) CommandResult {
	failures := 0
	for _, cfg := range configs {
		mode, known := drivers.ParsePinMode(cfg.Config)
		if !known {
			h.logger.Warn("unknown pin config, using INPUT", "channel", cfg.Channel, "config", cfg.Config)
		}

		channel := cfg.Channel
		err := h.worker.Do(ctx, PriorityCommand, func(hw drivers.Hardware) error {
			return h.registry.Configure(channel, mode)
		})
		if err != nil {
			failures++
			h.logger.Error("pin configuration failed", "channel", channel, "mode", mode, "err", err)
			continue
		}
		h.logger.Debug("pin configured", "channel", channel, "mode", mode)
	}

	if failures > 0 {
		return CommandResult{Success: false, RetCode: 1}
	}
	return CommandResult{Success: true}
}

// HandleEnable always succeeds; hardware errors are only logged. The flag
// flips on the worker so writes queued before and after keep their order.
func (h *Handlers) HandleEnable(ctx context.Context, enabled bool) CommandResult {
	var applied atomic.Bool
	err := h.worker.Do(ctx, PriorityCommand, func(hw drivers.Hardware) error {
		defer h.session.setEnabled(enabled)
		applied.Store(true)
		if enabled {
			return hw.Enable()
		}
		return hw.Disable()
	})
	if err != nil {
		h.logger.Error("hardware enable toggle failed", "enabled", enabled, "err", err)
	}
	if !applied.Load() {
		h.session.setEnabled(enabled)
	}

	h.logger.Info("hardware enable set", "enabled", enabled)
	return CommandResult{Success: true}
}
