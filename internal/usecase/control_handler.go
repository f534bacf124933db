package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domrepo "PortfolioAgents/internal/domain/repository"
	"PortfolioAgents/internal/mode"
	pkgkafka "PortfolioAgents/pkg/kafka"
	"PortfolioAgents/pkg/logger"
)

// Control commands accepted on the control topic.
const (
	CommandSetMode = "set_mode"
	CommandRun     = "run"
)

// ModeSetter switches the process mode.
type ModeSetter interface {
	SetMode(m mode.Mode) (mode.Mode, error)
}

// RunTrigger starts a run in the background.
type RunTrigger interface {
	Trigger(source string) error
}

// ControlCommand is the message schema: {"command":"set_mode","mode":"PANIC"}
// or {"command":"run"}.
type ControlCommand struct {
	Command string `json:"command"`
	Mode    string `json:"mode,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ControlHandler applies operator commands received from Kafka.
type ControlHandler struct {
	topic   string
	modes   ModeSetter
	runs    RunTrigger
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewControlHandler(topic string, modes ModeSetter, runs RunTrigger, metrics domrepo.Metrics, l *logger.Logger) *ControlHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &ControlHandler{topic: topic, modes: modes, runs: runs, metrics: metrics, logger: l}
}

func (h *ControlHandler) Topic() string { return h.topic }

// Handle applies one command. A run command that finds a run in flight is
// dropped rather than retried.
func (h *ControlHandler) Handle(_ context.Context, b []byte) error {
	var cmd ControlCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.recordError("control_unmarshal")
		return fmt.Errorf("decode control command: %w", err)
	}

	switch cmd.Command {
	case CommandSetMode:
		m, err := mode.Parse(cmd.Mode)
		if err != nil {
			h.recordError("control_mode")
			return err
		}
		prev, err := h.modes.SetMode(m)
		if err != nil {
			return err
		}
		h.logger.Warn("system mode changed",
			logger.String("source", "kafka"),
			logger.String("from", string(prev)),
			logger.String("to", string(m)),
			logger.String("reason", cmd.Reason),
		)
		return nil
	case CommandRun:
		if err := h.runs.Trigger("kafka"); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				h.logger.Info("run command ignored, run already active")
				return nil
			}
			return err
		}
		return nil
	default:
		h.recordError("control_unknown")
		return fmt.Errorf("unknown control command %q", cmd.Command)
	}
}

func (h *ControlHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*ControlHandler)(nil)
