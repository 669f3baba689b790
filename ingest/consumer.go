package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"go.uber.org/zap"
)

// Consumer reads JSON signals from a PubSub channel into a Dispatcher.
type Consumer struct {
	ps      cache.PubSub
	channel string
	disp    *Dispatcher
	logger  *zap.Logger
}

func NewConsumer(ps cache.PubSub, channel string, disp *Dispatcher, logger *zap.Logger) *Consumer {
	return &Consumer{ps: ps, channel: channel, disp: disp, logger: logger}
}

// Decode parses one wire signal. The action type accepts either case.
func Decode(payload []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(payload, &s); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	t, ok := quest.ParseType(string(s.Type))
	if !ok {
		return Signal{}, fmt.Errorf("decode signal: unknown action type %q", s.Type)
	}
	s.Type = t
	return s, nil
}

// Run subscribes and forwards signals until ctx is cancelled or the
// subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, cancel, err := c.ps.Subscribe(ctx, c.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	defer cancel()
	c.logger.Info("ingest consumer subscribed", zap.String("channel", c.channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			s, err := Decode([]byte(m.Payload))
			if err != nil {
				metrics.SignalsDropped.WithLabelValues("malformed").Inc()
				c.logger.Warn("bad action signal", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			c.disp.Submit(s)
		}
	}
}
