package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	subjectExecute   = "veil.keeper.execute"
	subjectLiquidate = "veil.keeper.liquidate"
)

// Commander publishes keeper commands to the command stream. Commands draw
// from a local sequence counter, so like the admin injector it assumes a
// single command writer per deployment.
type Commander struct {
	js     jetstream.JetStream
	keeper uuid.UUID
	cmdSeq atomic.Int64
}

func NewCommander(js jetstream.JetStream, keeper uuid.UUID, startSeq int64) *Commander {
	c := &Commander{js: js, keeper: keeper}
	c.cmdSeq.Store(startSeq)
	return c
}

func (c *Commander) nextSeq() int64 {
	return c.cmdSeq.Add(1) - 1
}

type executeOrderWire struct {
	RequestID   string `json:"request_id"`
	OrderID     string `json:"order_id"`
	Keeper      string `json:"keeper"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

type liquidateWire struct {
	RequestID   string `json:"request_id"`
	PositionID  string `json:"position_id"`
	Keeper      string `json:"keeper"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// Attempt publishes the command for one scan action.
func (c *Commander) Attempt(ctx context.Context, a Action) error {
	now := time.Now().UnixMicro()
	switch a.Kind {
	case ActionExecute:
		return c.publish(ctx, subjectExecute, executeOrderWire{
			RequestID:   uuid.NewString(),
			OrderID:     a.Target.String(),
			Keeper:      c.keeper.String(),
			CmdSequence: c.nextSeq(),
			TimestampUs: now,
		})
	case ActionLiquidate:
		return c.publish(ctx, subjectLiquidate, liquidateWire{
			RequestID:   uuid.NewString(),
			PositionID:  a.Target.String(),
			Keeper:      c.keeper.String(),
			CmdSequence: c.nextSeq(),
			TimestampUs: now,
		})
	default:
		return fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

func (c *Commander) publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
