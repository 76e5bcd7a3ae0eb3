// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package processor

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	jsonenc "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/logging"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/store"
)

const repairTopic = "pattern.repair"

// RepairJob describes one C5/C2 side effect a learn call could not
// apply inline after its C4 write already committed, per §4.11: "A
// failure after C4 must be repairable; partial C5 increments are
// tolerable... but log loudly." Each job carries exactly the step(s)
// that still need applying — a learn failing on the index add after
// its frequency increment already landed publishes an index-only job,
// so a Nack'd retry never double-counts a step that already succeeded.
type RepairJob struct {
	KBID       string            `json:"kb_id"`
	Name       string            `json:"name"`
	Symbols    []string          `json:"symbols"`
	NeedFreq   bool              `json:"need_freq"`
	NeedPMF    bool              `json:"need_pmf"`
	NeedIndex  bool              `json:"need_index"`
	MinHashSig minhash.Signature `json:"minhash_sig"`
}

// RepairQueue is an in-process, in-memory pub/sub for RepairJob
// messages, built on watermill's gochannel implementation — the
// in-memory equivalent of the NATS JetStream queue the teacher wires
// for its own event pipeline, scoped down since KATO's repair traffic
// never needs to cross a process boundary. Jobs are not persisted:
// pending jobs are lost when the process exits, and a job published
// while no worker is subscribed is dropped.
type RepairQueue struct {
	pubsub *gochannel.GoChannel
}

// NewRepairQueue builds a repair queue logging through logger.
func NewRepairQueue(logger zerolog.Logger) *RepairQueue {
	ps := gochannel.NewGoChannel(gochannel.Config{}, newZerologAdapter(logger))
	return &RepairQueue{pubsub: ps}
}

// Publish enqueues a repair job, never blocking the caller's learn
// path on a subscriber being slow to drain.
func (q *RepairQueue) Publish(job RepairJob) error {
	payload, err := jsonenc.Marshal(job)
	if err != nil {
		return kerrors.Wrap(kerrors.KindValidation, "encode repair job", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.pubsub.Publish(repairTopic, msg); err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "publish repair job", err)
	}
	return nil
}

// Close shuts down the underlying pub/sub, unblocking any active
// subscription.
func (q *RepairQueue) Close() error {
	return q.pubsub.Close()
}

// RepairWorker drains a RepairQueue and replays its jobs' C5/C2 side
// effects. It implements suture.Service (Serve(ctx) error) so the
// repair supervisor restarts it under backoff if it ever exits.
type RepairWorker struct {
	Queue    *RepairQueue
	Metadata store.MetadataStore
	Index    minhash.Index
	Params   minhash.Params
}

// Serve subscribes to the repair topic and applies jobs until ctx is
// canceled or the queue is closed.
func (w *RepairWorker) Serve(ctx context.Context) error {
	messages, err := w.Queue.pubsub.Subscribe(ctx, repairTopic)
	if err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "subscribe to repair queue", err)
	}

	logger := logging.With().Str("component", "repair-worker").Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, msg); err != nil {
				logger.Error().Err(err).Str("msg_uuid", msg.UUID).Msg("repair job failed, will retry")
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

func (w *RepairWorker) apply(ctx context.Context, msg *message.Message) error {
	var job RepairJob
	if err := jsonenc.Unmarshal(msg.Payload, &job); err != nil {
		// A malformed payload will never deserialize on retry either;
		// ack it away rather than looping forever.
		return nil
	}

	if job.NeedFreq {
		if err := w.Metadata.IncrementSymbolFrequency(ctx, job.KBID, job.Symbols); err != nil {
			return err
		}
	}
	if job.NeedPMF {
		if err := w.Metadata.IncrementSymbolPMF(ctx, job.KBID, job.Symbols); err != nil {
			return err
		}
	}
	if job.NeedIndex && w.Index != nil {
		if err := w.Index.Add(ctx, job.KBID, job.Name, job.MinHashSig, w.Params); err != nil {
			return err
		}
	}
	return nil
}
