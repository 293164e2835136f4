package datamanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/zkbarchive/zkb/internal/common"
	"github.com/zkbarchive/zkb/internal/common/app"
	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/health"
	"github.com/zkbarchive/zkb/internal/common/logging"
	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/datamanager/configuration"
	"github.com/zkbarchive/zkb/internal/datamanager/esi"
	"github.com/zkbarchive/zkb/internal/killmaildb"
	"github.com/zkbarchive/zkb/internal/protocol"
)

// Fetcher downloads the full killmail for an id and hash.
type Fetcher interface {
	FetchKillmail(ctx context.Context, idHash protocol.IdHash) (*protocol.Killmail, error)
}

type KillmailStore interface {
	StoreKillmails(ctx context.Context, killmails []*protocol.Killmail) ([]int64, error)
}

// Run starts the data manager and blocks until it is signalled to stop or fails.
func Run(config *configuration.DataManagerConfiguration) error {
	log := logging.ForComponent("DataManager")

	db, err := database.Open(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	client, err := eventstream.NewClient(config.Bus, "zkb-datamanager")
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

	m := NewMetrics(prometheus.DefaultRegisterer)
	fetcher := esi.NewClient(config.Esi, func(protocol.IdHash, uint, error) { m.fetchRetries.Inc() })
	worker := New(fetcher, killmaildb.New(db), client, config, clock.RealClock{}, m, log)
	return worker.Run(ctx)
}

// Worker turns hashes into stored killmails. It pulls batches of hashes from the hash manager, one
// batch at a time, and stores killmails relayed by the live feed as they arrive.
type Worker struct {
	fetcher Fetcher
	store   KillmailStore
	client  eventstream.Client
	config  *configuration.DataManagerConfiguration
	clock   clock.Clock
	metrics *Metrics
	log     *logrus.Entry

	// Id of the RequestLastHashes still waiting for its batch, empty if none. Only used by Run.
	awaiting string
}

func New(
	fetcher Fetcher,
	store KillmailStore,
	client eventstream.Client,
	config *configuration.DataManagerConfiguration,
	clock clock.Clock,
	m *Metrics,
	log *logrus.Entry,
) *Worker {
	return &Worker{
		fetcher: fetcher,
		store:   store,
		client:  client,
		config:  config,
		clock:   clock,
		metrics: m,
		log:     log,
	}
}

// Run subscribes to the data topic, asks for the first batch of hashes and handles data events until
// ctx is cancelled. A message that can't be decoded or a failure to store or publish ends Run with an error.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.client.Subscribe(ctx, w.config.Bus.DataTopic, w.config.SubscriptionName)
	if err != nil {
		return err
	}
	defer sub.Close()

	publisher, err := w.client.NewPublisher(w.config.Bus.CommandTopic)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := w.requestHashes(ctx, publisher); err != nil {
		return err
	}
	w.log.Infof("Handling data events from %s", w.config.Bus.DataTopic)

	// Set while an abandoned batch waits to be requested again.
	var rerequest <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rerequest:
			rerequest = nil
			if w.awaiting == "" {
				if err := w.requestHashes(ctx, publisher); err != nil {
					return w.stopped(ctx, err)
				}
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			msg.Ack()
			event, err := protocol.UnmarshalData(msg.Payload)
			if err != nil {
				w.metrics.RecordMessageError(metrics.MessageErrorDeserialization)
				return errors.WithStack(&zkberrors.ErrUnexpectedMessage{
					Topic:   w.config.Bus.DataTopic,
					Message: err.Error(),
				})
			}
			switch {
			case event.HashesToHandle != nil:
				batch := event.HashesToHandle
				if batch.RequestId != "" && batch.RequestId == w.awaiting {
					w.awaiting = ""
				}
				outcome, err := w.HandleHashes(ctx, publisher, batch.Hashes)
				if err != nil {
					return w.stopped(ctx, err)
				}
				// Batches requested by someone else are handled, but only start a new request chain
				// if this worker has none outstanding.
				if w.awaiting != "" {
					continue
				}
				switch outcome {
				case batchAccepted:
					rerequest = nil
					if err := w.requestHashes(ctx, publisher); err != nil {
						return w.stopped(ctx, err)
					}
				case batchAbandoned:
					if rerequest == nil {
						rerequest = w.clock.After(w.config.AbandonedBatchDelay)
					}
				}
			case event.KillmailToStore != nil:
				if err := w.HandleKillmail(ctx, publisher, event.KillmailToStore); err != nil {
					return w.stopped(ctx, err)
				}
			}
		}
	}
}

// stopped returns nil for errors caused by shutdown and err otherwise.
func (w *Worker) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	logging.WithStacktrace(w.log, err).Error("Data manager failed")
	w.metrics.RecordMessageError(metrics.MessageErrorProcessing)
	return err
}

// HandleHashes fetches the killmails of a batch and stores them if the batch passes the update date
// filter. Stored ids are reported back to the hash manager. If any killmail could not be fetched the
// batch is abandoned and nothing is stored or published.
func (w *Worker) HandleHashes(
	ctx context.Context,
	publisher eventstream.Publisher,
	hashes []protocol.IdHash,
) (batchOutcome, error) {
	log := w.log.WithField("batchSize", len(hashes))

	killmails, err := w.fetchAll(ctx, hashes)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.WithStacktrace(log, err).Warn("Abandoning batch; hashes stay pending")
		w.metrics.RecordBatch(batchAbandoned)
		return batchAbandoned, nil
	}

	if !AcceptBatch(killmails, w.config.UpdateDate) {
		log.Infof("No killmail after %s; batch discarded", w.config.UpdateDate.Format(time.RFC3339))
		w.metrics.RecordBatch(batchRejected)
		return batchRejected, nil
	}

	ids, err := w.store.StoreKillmails(ctx, killmails)
	if err != nil {
		w.metrics.RecordDBError(metrics.DBOperationInsert)
		return "", err
	}
	w.metrics.RecordStored(pathBatch, len(ids))
	w.metrics.RecordBatch(batchAccepted)
	log.Infof("Stored %d killmails", len(ids))

	if err := w.publish(ctx, publisher, protocol.NewMarkComplete(ids)); err != nil {
		return "", err
	}
	return batchAccepted, nil
}

// HandleKillmail stores a killmail relayed by the live feed and reports its hash as handled. Killmails
// without valid zKillboard metadata are skipped.
func (w *Worker) HandleKillmail(ctx context.Context, publisher eventstream.Publisher, killmail *protocol.Killmail) error {
	log := w.log.WithField("killmailId", killmail.KillmailId)

	idHash, ok, err := killmail.HandledHash()
	if !ok {
		log.Warn("Live killmail has no zkb metadata; skipping")
		w.metrics.invalidKillmails.Inc()
		return nil
	}
	if err != nil {
		logging.WithStacktrace(log, err).Warn("Live killmail has an invalid hash; skipping")
		w.metrics.invalidKillmails.Inc()
		return nil
	}

	if _, err := w.store.StoreKillmails(ctx, []*protocol.Killmail{killmail}); err != nil {
		w.metrics.RecordDBError(metrics.DBOperationInsert)
		return err
	}
	w.metrics.RecordStored(pathLive, 1)
	log.Debug("Stored live killmail")

	return w.publish(ctx, publisher, protocol.NewSaveHandledHash(idHash))
}

// fetchAll fetches every killmail of hashes, at most MaxConcurrentFetches at a time if set. The first failure
// cancels the remaining fetches. Killmails are returned in the order of hashes.
func (w *Worker) fetchAll(ctx context.Context, hashes []protocol.IdHash) ([]*protocol.Killmail, error) {
	killmails := make([]*protocol.Killmail, len(hashes))
	g, groupCtx := errgroup.WithContext(ctx)
	if w.config.MaxConcurrentFetches > 0 {
		g.SetLimit(w.config.MaxConcurrentFetches)
	}
	for i, idHash := range hashes {
		i, idHash := i, idHash
		g.Go(func() error {
			killmail, err := w.fetcher.FetchKillmail(groupCtx, idHash)
			if err != nil {
				return errors.WithMessagef(err, "error fetching killmail %s", idHash)
			}
			killmails[i] = killmail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return killmails, nil
}

// requestHashes asks for the next batch. Only one such request is outstanding at a time.
func (w *Worker) requestHashes(ctx context.Context, publisher eventstream.Publisher) error {
	requestId := uuid.NewString()
	if err := w.publish(ctx, publisher, protocol.NewTrackedRequestLastHashes(w.config.BatchSize, requestId)); err != nil {
		return err
	}
	w.awaiting = requestId
	return nil
}

func (w *Worker) publish(ctx context.Context, publisher eventstream.Publisher, cmd *protocol.CmdEvent) error {
	payload, err := protocol.MarshalCmd(cmd)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, payload); err != nil {
		w.metrics.RecordMessageError(metrics.MessageErrorPublish)
		return errors.WithMessagef(err, "error publishing %s", cmd.Kind())
	}
	return nil
}

// AcceptBatch reports whether at least one killmail happened strictly after cutoff.
func AcceptBatch(killmails []*protocol.Killmail, cutoff time.Time) bool {
	for _, killmail := range killmails {
		if killmail.KillmailTime.After(cutoff) {
			return true
		}
	}
	return false
}
