package hashmanager

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zkbarchive/zkb/internal/common"
	"github.com/zkbarchive/zkb/internal/common/app"
	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/health"
	"github.com/zkbarchive/zkb/internal/common/logging"
	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/common/task"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/hashmanager/configuration"
	"github.com/zkbarchive/zkb/internal/hashstore"
	"github.com/zkbarchive/zkb/internal/protocol"
)

const taskShutdownTimeout = 5 * time.Second

// Run starts the hash manager and blocks until it receives Quit, is signalled to stop, or fails.
func Run(config *configuration.HashManagerConfiguration) error {
	log := logging.ForComponent("HashManager")

	db, err := database.Open(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	client, err := eventstream.NewClient(config.Bus, "zkb-hashmanager")
	if err != nil {
		return err
	}
	defer client.Close()

	if config.MetricsPort > 0 {
		shutdownMetricServer := common.ServeMetrics(config.MetricsPort, health.NewMultiChecker().Add("database", db).Add("bus", client))
		defer shutdownMetricServer()
	}

	ctx, cancel := app.CreateContextWithShutdown()
	defer cancel()

	hm := New(hashstore.New(db), client, config, NewMetrics(prometheus.DefaultRegisterer), log)
	return hm.Run(ctx)
}

// HashManager receives commands from the bus and executes them in arrival order on a single goroutine.
type HashManager struct {
	store   HashStore
	client  eventstream.Client
	config  *configuration.HashManagerConfiguration
	metrics *Metrics
	log     *logrus.Entry
}

func New(
	store HashStore,
	client eventstream.Client,
	config *configuration.HashManagerConfiguration,
	m *Metrics,
	log *logrus.Entry,
) *HashManager {
	return &HashManager{
		store:   store,
		client:  client,
		config:  config,
		metrics: m,
		log:     log,
	}
}

// Run subscribes to the command topic and processes commands until one of the following happens:
//   - a Quit command has been processed; commands received before it are processed first
//   - ctx is cancelled; commands already received are processed before returning
//   - a message can't be decoded or a command fails, in which case the error is returned
func (h *HashManager) Run(ctx context.Context) error {
	receiveCtx, cancelReceive := context.WithCancel(ctx)
	defer cancelReceive()

	sub, err := h.client.Subscribe(receiveCtx, h.config.Bus.CommandTopic, h.config.SubscriptionName)
	if err != nil {
		return err
	}
	defer sub.Close()

	publisher, err := h.client.NewPublisher(h.config.Bus.DataTopic)
	if err != nil {
		return err
	}
	defer publisher.Close()

	queue := NewPendingQueue()
	processor := NewProcessor(h.store, publisher, h.metrics, h.log)

	taskManager := task.NewBackgroundTaskManager(h.metrics.Prefix, h.metrics.Registerer)
	taskManager.Register(func() { h.reportQueueDepth(queue) }, h.config.StatsInterval, "stats")
	defer taskManager.StopAll(taskShutdownTimeout)

	receiveErr := make(chan error, 1)
	go func() {
		defer queue.Close()
		receiveErr <- h.receive(receiveCtx, sub, queue)
	}()

	h.log.Infof("Processing commands from %s", h.config.Bus.CommandTopic)
	processErr := h.process(queue, processor)

	// Stop intake and wait for the receiver so that nothing is left running when Run returns.
	cancelReceive()
	sub.Close()
	err = <-receiveErr
	if processErr != nil {
		return processErr
	}
	if err == nil {
		h.log.Info("Hash manager stopped")
	}
	return err
}

// receive decodes messages from sub onto queue. It returns nil after queueing Quit or when the
// subscription ends, and an error if a message can't be decoded.
func (h *HashManager) receive(ctx context.Context, sub eventstream.Subscription, queue *PendingQueue) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			msg.Ack()
			cmd, err := protocol.UnmarshalCmd(msg.Payload)
			if err != nil {
				h.metrics.RecordMessageError(metrics.MessageErrorDeserialization)
				return errors.WithStack(&zkberrors.ErrUnexpectedMessage{
					Topic:   h.config.Bus.CommandTopic,
					Message: err.Error(),
				})
			}
			if !queue.Push(cmd) {
				return nil
			}
			if cmd.Quit != nil {
				h.log.Info("Quit queued; no longer receiving commands")
				return nil
			}
		}
	}
}

// process runs queued commands until Quit is processed or the queue is closed and drained.
// Commands run to completion even if the hash manager is shutting down.
func (h *HashManager) process(queue *PendingQueue, processor *Processor) error {
	ctx := context.Background()
	for {
		cmd, ok := queue.Pop()
		if !ok {
			return nil
		}
		quit, err := processor.Process(ctx, cmd)
		if err != nil {
			logging.WithStacktrace(h.log, err).Errorf("Failed to process %s", cmd.Kind())
			h.metrics.RecordMessageError(metrics.MessageErrorProcessing)
			return err
		}
		if quit {
			return nil
		}
	}
}

func (h *HashManager) reportQueueDepth(queue *PendingQueue) {
	depth := queue.Len()
	h.metrics.queueDepth.Set(float64(depth))
	h.log.WithField("queueDepth", depth).Debug("queue statistics")
}
