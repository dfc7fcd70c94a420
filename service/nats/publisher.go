package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/homepass/service/metrics"
)

// Publisher sends share events to the event stream.
type Publisher interface {
	PublishProperty(ctx context.Context, event *PropertyEvent) error
	PublishAction(ctx context.Context, event *ActionEvent) error
	Close() error
}

const (
	// StreamName is the JetStream stream holding every homepass event.
	StreamName = "HOMEPASS"

	// SnapshotSubjectPrefix is followed by a property id token.
	SnapshotSubjectPrefix = "homepass.snapshots."

	// ActionSubjectPrefix is followed by a property id token.
	ActionSubjectPrefix = "homepass.actions."

	// StreamRetention bounds how long events stay in the stream.
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message ids, so a
	// retried publish of the same event is stored once.
	DuplicateWindow = 2 * time.Minute
)

// subjectToken makes a property id usable as a single subject token.
var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// SnapshotSubject returns the subject for a property's snapshot events.
func SnapshotSubject(propertyID string) string {
	return SnapshotSubjectPrefix + subjectToken.Replace(propertyID)
}

// ActionSubject returns the subject for a property's action events.
func ActionSubject(propertyID string) string {
	return ActionSubjectPrefix + subjectToken.Replace(propertyID)
}

// StreamConfig is the configuration the publisher creates or updates the
// stream with.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Property snapshots and share action outcomes",
		Subjects:    []string{SnapshotSubjectPrefix + "*", ActionSubjectPrefix + "*"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// JetStreamPublisher publishes events to the HOMEPASS stream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to natsURL and creates or updates the stream.
// m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("homepass-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := js.CreateOrUpdateStream(ctx, StreamConfig())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update stream %s: %w", StreamName, err)
	}

	info := stream.CachedInfo()
	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
		"messages", info.State.Msgs,
	)

	return &JetStreamPublisher{nc: nc, js: js, metrics: m, logger: logger}, nil
}

// PublishProperty publishes to SnapshotSubject(event.PropertyID).
func (p *JetStreamPublisher) PublishProperty(ctx context.Context, event *PropertyEvent) error {
	return p.publish(ctx, SnapshotSubject(event.PropertyID), event.MsgID(), event)
}

// PublishAction publishes to ActionSubject(event.PropertyID).
func (p *JetStreamPublisher) PublishAction(ctx context.Context, event *ActionEvent) error {
	return p.publish(ctx, ActionSubject(event.PropertyID), event.MsgID(), event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, msgID string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.DebugContext(ctx, "published event",
		"subject", subject,
		"msg_id", msgID,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return nil
}

// Close closes the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
