package historyfetcher

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zkbarchive/zkb/internal/common"
	"github.com/zkbarchive/zkb/internal/common/app"
	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/health"
	"github.com/zkbarchive/zkb/internal/common/logging"
	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/common/util"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
	"github.com/zkbarchive/zkb/internal/historyfetcher/configuration"
	"github.com/zkbarchive/zkb/internal/protocol"
)

const publishAttempts = 2

type DayFetcher interface {
	FetchDay(ctx context.Context, day time.Time) ([]protocol.IdHash, error)
}

// Run publishes the history of every day from first to last, both inclusive.
func Run(config *configuration.HistoryFetcherConfiguration, first, last time.Time) error {
	log := logging.ForComponent("HistoryFetcher")

	client, err := eventstream.NewClient(config.Bus, "zkb-historyfetcher")
	if err != nil {
		return err
	}
	defer client.Close()

	publisher, err := client.NewPublisher(config.Bus.CommandTopic)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if config.MetricsPort > 0 {
		shutdownMetricServer := common.ServeMetrics(config.MetricsPort, health.NewMultiChecker().Add("bus", client))
		defer shutdownMetricServer()
	}

	ctx, cancel := app.CreateContextWithShutdown()
	defer cancel()

	fetcher := New(NewHistoryClient(config.Zkb), publisher, config, NewMetrics(prometheus.DefaultRegisterer), log)
	return fetcher.FetchRange(ctx, first, last)
}

// HistoryFetcher turns the daily history of zKillboard into SaveDailyReport commands.
type HistoryFetcher struct {
	days      DayFetcher
	publisher eventstream.Publisher
	config    *configuration.HistoryFetcherConfiguration
	metrics   *Metrics
	log       *logrus.Entry
}

func New(
	days DayFetcher,
	publisher eventstream.Publisher,
	config *configuration.HistoryFetcherConfiguration,
	m *Metrics,
	log *logrus.Entry,
) *HistoryFetcher {
	return &HistoryFetcher{
		days:      days,
		publisher: publisher,
		config:    config,
		metrics:   m,
		log:       log,
	}
}

// FetchRange handles every day from first to last, Concurrency days at a time. A failed day does not
// stop the others; the failures of all days are returned together.
func (f *HistoryFetcher) FetchRange(ctx context.Context, first, last time.Time) error {
	if last.Before(first) {
		return errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "last",
			Value:   last.Format(commonconfig.DateLayout),
			Message: "last day is before first day " + first.Format(commonconfig.DateLayout),
		})
	}

	var mu sync.Mutex
	var result *multierror.Error
	g := errgroup.Group{}
	g.SetLimit(f.config.Concurrency)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		day := day
		g.Go(func() error {
			if err := f.handleDay(ctx, day); err != nil {
				logging.WithStacktrace(f.log, err).Errorf("Failed to publish history of %s", day.Format(commonconfig.DateLayout))
				f.metrics.daysFailed.Inc()
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if f.config.RequestAfterReports > 0 && ctx.Err() == nil {
		if err := f.publish(ctx, protocol.NewRequestLastHashes(f.config.RequestAfterReports)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f *HistoryFetcher) handleDay(ctx context.Context, day time.Time) error {
	date := day.Format(commonconfig.DateLayout)
	hashes, err := f.days.FetchDay(ctx, day)
	if err != nil {
		return errors.WithMessagef(err, "error fetching %s", date)
	}
	reports := util.Batch(hashes, f.config.MaxReportSize)
	for _, killmails := range reports {
		if err := f.publish(ctx, protocol.NewSaveDailyReport(date, killmails)); err != nil {
			return errors.WithMessagef(err, "error publishing %s", date)
		}
		f.metrics.reportsPublished.Inc()
		f.metrics.hashesPublished.Add(float64(len(killmails)))
	}
	f.log.WithField("reports", len(reports)).Infof("Sent %d killmails for %s", len(hashes), date)
	return nil
}

// publish sends cmd, retrying once after PublishRetryDelay.
func (f *HistoryFetcher) publish(ctx context.Context, cmd *protocol.CmdEvent) error {
	payload, err := protocol.MarshalCmd(cmd)
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error { return f.publisher.Publish(ctx, payload) },
		retry.Context(ctx),
		retry.Attempts(publishAttempts),
		retry.Delay(f.config.PublishRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.log.WithError(err).Warnf("Publishing %s failed; retrying", cmd.Kind())
		}),
	)
	if err != nil {
		f.metrics.RecordMessageError(metrics.MessageErrorPublish)
		return err
	}
	return nil
}
