// Package killstream relays killmails from the zKillboard websocket to the data topic.
package killstream

import (
	"context"
	"encoding/json"
	"math"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zkbarchive/zkb/internal/common"
	"github.com/zkbarchive/zkb/internal/common/app"
	"github.com/zkbarchive/zkb/internal/common/eventstream"
	"github.com/zkbarchive/zkb/internal/common/health"
	"github.com/zkbarchive/zkb/internal/common/logging"
	"github.com/zkbarchive/zkb/internal/common/metrics"
	"github.com/zkbarchive/zkb/internal/common/util"
	"github.com/zkbarchive/zkb/internal/killstream/configuration"
	"github.com/zkbarchive/zkb/internal/protocol"
)

type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Run relays killmails until it is signalled to stop.
func Run(config *configuration.KillstreamConfiguration) error {
	log := logging.ForComponent("Killstream")

	client, err := eventstream.NewClient(config.Bus, "zkb-killstream")
	if err != nil {
		return err
	}
	defer client.Close()

	publisher, err := client.NewPublisher(config.Bus.DataTopic)
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

	relay, err := New(publisher, config, NewMetrics(prometheus.DefaultRegisterer), log)
	if err != nil {
		return err
	}
	return relay.Run(ctx)
}

// Relay reads killmails from the websocket and publishes each one not seen recently as KillmailToStore.
type Relay struct {
	publisher eventstream.Publisher
	config    *configuration.KillstreamConfiguration
	seen      *lru.Cache
	dialer    *websocket.Dialer
	metrics   *Metrics
	log       *logrus.Entry
}

func New(
	publisher eventstream.Publisher,
	config *configuration.KillstreamConfiguration,
	m *Metrics,
	log *logrus.Entry,
) (*Relay, error) {
	seen, err := lru.New(config.DedupCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Relay{
		publisher: publisher,
		config:    config,
		seen:      seen,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		metrics: m,
		log:     log,
	}, nil
}

// Run connects to the websocket and relays killmails until ctx is cancelled. Lost connections are
// re-established with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	for {
		conn, err := r.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = r.relay(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			r.log.Info("Killstream relay stopped")
			return nil
		}
		r.log.WithError(err).Warn("Websocket connection lost; reconnecting")
		r.metrics.reconnects.Inc()
	}
}

func (r *Relay) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			c, _, err := r.dialer.DialContext(ctx, r.config.WebsocketURL, nil)
			if err != nil {
				return errors.Wrapf(err, "error connecting to %s", r.config.WebsocketURL)
			}
			if err := c.WriteJSON(subscribeMessage{Action: "sub", Channel: r.config.Channel}); err != nil {
				c.Close()
				return errors.Wrapf(err, "error subscribing to %s", r.config.Channel)
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(math.MaxUint32),
		retry.Delay(r.config.ReconnectDelay),
		retry.MaxDelay(r.config.MaxReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.WithError(err).Warnf("Connection attempt %d failed", n+1)
		}),
	)
	if err != nil {
		return nil, err
	}
	r.log.Infof("Subscribed to %s on %s", r.config.Channel, r.config.WebsocketURL)
	return conn, nil
}

// relay handles frames from conn until reading fails or ctx is cancelled.
func (r *Relay) relay(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage.
			conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return errors.WithStack(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		r.handleFrame(ctx, data)
	}
}

func (r *Relay) handleFrame(ctx context.Context, data []byte) {
	killmail := &protocol.Killmail{}
	if err := json.Unmarshal(data, killmail); err != nil || killmail.KillmailId == 0 {
		r.log.WithError(err).Warnf("Skipping malformed frame of %d bytes", len(data))
		r.metrics.RecordMessageError(metrics.MessageErrorDeserialization)
		return
	}
	log := r.log.WithField("killmailId", killmail.KillmailId)

	if seen, _ := r.seen.ContainsOrAdd(killmail.KillmailId, struct{}{}); seen {
		log.Debug("Dropping duplicate killmail")
		r.metrics.duplicates.Inc()
		return
	}

	payload, err := protocol.MarshalData(protocol.NewKillmailToStore(killmail))
	if err != nil {
		logging.WithStacktrace(log, err).Error("Failed to encode killmail")
		r.metrics.RecordMessageError(metrics.MessageErrorProcessing)
		return
	}
	err = util.RetryUntilSuccess(
		ctx,
		func() error { return r.publisher.Publish(ctx, payload) },
		func(err error) {
			log.WithError(err).Warn("Failed to publish killmail; retrying")
			r.metrics.RecordMessageError(metrics.MessageErrorPublish)
		},
		r.config.PublishRetryDelay,
	)
	if err != nil {
		return
	}
	r.metrics.killmailsPublished.Inc()
	log.Info("Published killmail")
}
