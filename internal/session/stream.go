package session

import (
	"time"

	"go.uber.org/zap"
)

// stream is the per-connection writer. It drains the outbound queue in FIFO
// order, waking on new frames, cancellation, or a periodic liveness check.
// A failed write is terminal: teardown is scheduled and the loop exits.
func (m *Manager) stream(c *Connection) {
	defer m.wg.Done()
	defer close(c.writerDone)

	timer := time.NewTimer(m.opts.QueueWait)
	defer timer.Stop()

	for {
		for {
			if c.ctx.Err() != nil {
				return
			}
			frame, ok := c.queue.pop()
			if !ok {
				break
			}
			if err := c.transport.WriteMessage(frame); err != nil {
				m.metrics.writeFailures.Inc()
				m.logger.Warn("❌ Write to client failed",
					zap.String("client_id", c.ID),
					zap.Error(err))
				// Disconnect waits for this loop, so it cannot run inline
				go m.Disconnect(c.ID, ReasonWriteFailure)
				return
			}
			c.delivered.Add(1)
			m.metrics.delivered.Inc()
		}

		timer.Reset(m.opts.QueueWait)
		select {
		case <-c.ctx.Done():
			return
		case <-c.queue.notify:
		case <-timer.C:
			if !m.IsRegistered(c.ID) {
				m.logger.Debug("Streaming loop found connection unregistered", zap.String("client_id", c.ID))
				return
			}
		}
	}
}
