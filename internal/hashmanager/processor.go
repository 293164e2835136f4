package hashmanager

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/protocol"
)

// HashStore is the persistence the processor needs; implemented by hashstore.Store.
type HashStore interface {
	UpsertPendingBatch(ctx context.Context, hashes []protocol.IdHash) (int, error)
	MarkComplete(ctx context.Context, ids []int64) (int64, error)
	QueryPending(ctx context.Context, n uint32) ([]protocol.IdHash, error)
	InsertComplete(ctx context.Context, idHash protocol.IdHash) error
}

// Processor executes commands one at a time against the hash store.
type Processor struct {
	store         HashStore
	dataPublisher eventstream.Publisher
	metrics       *Metrics
	log           *logrus.Entry
}

func NewProcessor(store HashStore, dataPublisher eventstream.Publisher, m *Metrics, log *logrus.Entry) *Processor {
	return &Processor{
		store:         store,
		dataPublisher: dataPublisher,
		metrics:       m,
		log:           log,
	}
}

// Process executes cmd. quit is true if cmd asks the hash manager to stop.
// An error means the store or the bus failed and the hash manager can't continue.
func (p *Processor) Process(ctx context.Context, cmd *protocol.CmdEvent) (quit bool, err error) {
	kind := cmd.Kind()
	defer func() {
		if err == nil {
			p.metrics.RecordCommand(kind)
		}
	}()

	switch kind {
	case protocol.CmdSaveDailyReport:
		return false, p.saveDailyReport(ctx, cmd.SaveDailyReport)
	case protocol.CmdRequestLastHashes:
		return false, p.requestLastHashes(ctx, cmd.RequestLastHashes)
	case protocol.CmdMarkComplete:
		return false, p.markComplete(ctx, cmd.MarkComplete.Ids)
	case protocol.CmdSaveHandledHash:
		return false, p.saveHandledHash(ctx, *cmd.SaveHandledHash)
	case protocol.CmdReturnHash:
		p.log.Debugf("Ignoring ReturnHash for killmail %s", cmd.ReturnHash)
		return false, nil
	case protocol.CmdQuit:
		p.log.Info("Quit received")
		return true, nil
	default:
		return false, errors.New("command has no variant set")
	}
}

func (p *Processor) saveDailyReport(ctx context.Context, report *protocol.DailyReport) error {
	n, err := p.store.UpsertPendingBatch(ctx, report.Killmails)
	if err != nil {
		p.metrics.RecordDBError(metrics.DBOperationInsert)
		return errors.WithMessagef(err, "error saving report for %s", report.Date)
	}
	p.metrics.hashesReported.Add(float64(n))
	p.log.Infof("Inserted %d hashes from report for %s", n, report.Date)
	return nil
}

func (p *Processor) requestLastHashes(ctx context.Context, request *protocol.RequestLastHashes) error {
	count := request.Count
	hashes, err := p.store.QueryPending(ctx, count)
	if err != nil {
		p.metrics.RecordDBError(metrics.DBOperationRead)
		return errors.WithMessage(err, "error querying pending hashes")
	}
	payload, err := protocol.MarshalData(protocol.NewHashesToHandleFor(request.RequestId, hashes))
	if err != nil {
		return err
	}
	if err := p.dataPublisher.Publish(ctx, payload); err != nil {
		p.metrics.RecordMessageError(metrics.MessageErrorPublish)
		return errors.WithMessage(err, "error publishing hashes to handle")
	}
	p.metrics.hashesPublished.Add(float64(len(hashes)))
	p.log.Infof("Published %d of %d requested pending hashes", len(hashes), count)
	return nil
}

func (p *Processor) markComplete(ctx context.Context, ids []int64) error {
	updated, err := p.store.MarkComplete(ctx, ids)
	if err != nil {
		p.metrics.RecordDBError(metrics.DBOperationUpdate)
		return errors.WithMessage(err, "error marking hashes complete")
	}
	p.metrics.hashesCompleted.Add(float64(updated))
	entry := p.log.WithFields(logrus.Fields{"updated": updated, "requested": len(ids)})
	if updated < int64(len(ids)) {
		entry.Warn("Some hashes were not pending when marked complete")
	} else {
		entry.Info("Marked hashes complete")
	}
	return nil
}

func (p *Processor) saveHandledHash(ctx context.Context, idHash protocol.IdHash) error {
	if err := p.store.InsertComplete(ctx, idHash); err != nil {
		p.metrics.RecordDBError(metrics.DBOperationInsert)
		return errors.WithMessagef(err, "error saving handled hash %s", idHash)
	}
	p.log.Debugf("Saved handled hash %s", idHash)
	return nil
}
