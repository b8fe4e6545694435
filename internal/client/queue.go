package client

import (
	"time"

	"github.com/haasonsaas/boardsync/internal/transform"
	"github.com/haasonsaas/boardsync/pkg/models"
)

// pendingOp is an outbound operation awaiting server acknowledgment. The
// acknowledgment is the operation's id appearing in a broadcast or a join
// backfill; entries older than the queue TTL are presumed lost and dropped.
type pendingOp struct {
	op       models.Operation
	queuedAt time.Time
}

// handleRemoteOps reconciles a batch of accepted server operations with local
// state: own operations are acknowledged off the queue, everything else is
// folded against the still-pending local edits and delivered in version
// order. The fold runs both ways so the locally applied result and an
// eventual resend land on the same serialization the server computes.
func (c *Client) handleRemoteOps(ops []models.Operation) {
	if len(ops) == 0 {
		return
	}

	now := c.nowFunc()
	c.mu.Lock()
	var deliver []models.Operation
	for _, op := range ops {
		if op.Version > c.version {
			c.version = op.Version
		}
		if c.removePendingLocked(op.ID) {
			continue
		}
		// Pairwise transform: the remote operation is adjusted for each
		// queued local edit before it touches local state, and the queued
		// edit is rebased over the remote so a resend carries intent
		// relative to what the server has already accepted.
		folded := op
		for i := range c.pending {
			queued := c.pending[i].op
			rebased, rebChanged := transform.TransformAgainst(queued, folded)
			next, foldChanged := transform.TransformAgainst(folded, queued)
			if rebChanged {
				c.pending[i].op = rebased
			}
			if foldChanged {
				folded = next
			}
		}
		deliver = append(deliver, folded)
	}
	c.expirePendingLocked(now)
	cb := c.cb.OnOperations
	c.mu.Unlock()

	if cb != nil && len(deliver) > 0 {
		cb(deliver)
	}
}

// resendPending retransmits unexpired queued operations after a reconnect,
// reparented on the version the rejoin established. Ids are stable, so the
// server treats replays of already-accepted operations as duplicates.
func (c *Client) resendPending() {
	now := c.nowFunc()
	c.mu.Lock()
	c.expirePendingLocked(now)
	version := c.version
	resend := make([]models.Operation, 0, len(c.pending))
	for i := range c.pending {
		c.pending[i].op.ParentVersion = version
		resend = append(resend, c.pending[i].op)
	}
	c.mu.Unlock()

	for _, op := range resend {
		if err := c.writeFrame(models.MsgOperation, operationPayload(op)); err != nil {
			c.logger.Debug("resend deferred", "op_id", op.ID, "error", err)
			return
		}
	}
}

// expirePending drops queue entries past the TTL.
func (c *Client) expirePending() {
	c.mu.Lock()
	c.expirePendingLocked(c.nowFunc())
	c.mu.Unlock()
}

func (c *Client) expirePendingLocked(now time.Time) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if now.Sub(p.queuedAt) <= c.cfg.QueueTTL {
			kept = append(kept, p)
		} else {
			c.logger.Debug("dropped expired outbound operation", "op_id", p.op.ID)
		}
	}
	c.pending = kept
}

func (c *Client) removePendingLocked(opID string) bool {
	for i, p := range c.pending {
		if p.op.ID == opID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}
