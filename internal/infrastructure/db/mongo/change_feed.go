package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const driverName = "mongo"

// ChangeFeed implements ports.ChangeFeed with MongoDB change streams. A
// broken stream is reopened from its resume token with capped backoff; the
// watcher then gets a Resync notice since changes may have been missed.
type ChangeFeed struct {
	db         *mongo.Database
	minBackoff time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger
}

// NewChangeFeed creates a ChangeFeed. Zero backoff bounds use the defaults.
func NewChangeFeed(db *mongo.Database, minBackoff, maxBackoff time.Duration, log zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{db: db, minBackoff: minBackoff, maxBackoff: maxBackoff, log: log}
}

type changeWatch struct {
	cancel context.CancelFunc
}

// Close stops the stream. It does not wait for the reader to exit, so it is
// safe to call from within a notify callback.
func (w *changeWatch) Close() error {
	w.cancel()
	return nil
}

// changeEvent is the subset of a change stream document the feed reads.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch opens a change stream on spec.Collection. The first open happens
// before Watch returns so configuration errors surface to the caller.
func (f *ChangeFeed) Watch(ctx context.Context, spec ports.WatchSpec, notify func(ports.ChangeNotice)) (ports.Watch, error) {
	wctx, cancel := context.WithCancel(ctx)
	cs, err := f.open(wctx, spec, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	go f.run(wctx, cs, spec, notify)
	return &changeWatch{cancel: cancel}, nil
}

func (f *ChangeFeed) open(ctx context.Context, spec ports.WatchSpec, token bson.Raw) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token != nil {
		opts.SetResumeAfter(token)
	}
	cs, err := f.db.Collection(spec.Collection).Watch(ctx, watchPipeline(spec.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", spec.Collection, err)
	}
	return cs, nil
}

func (f *ChangeFeed) run(ctx context.Context, cs *mongo.ChangeStream, spec ports.WatchSpec, notify func(ports.ChangeNotice)) {
	log := f.log.With().Str("collection", spec.Collection).Logger()
	bo := reconnectBackOff(f.minBackoff, f.maxBackoff)

	for {
		token := f.consume(ctx, cs, spec, notify)
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("change stream broken")
		}
		_ = cs.Close(context.Background())
		if ctx.Err() != nil {
			return
		}

		next, ok := f.reopen(ctx, spec, token, bo, log)
		if !ok {
			return
		}
		cs = next
		notify(ports.ChangeNotice{Collection: spec.Collection, Resync: true})
	}
}

// consume forwards events until the stream ends and returns the last resume
// token seen.
func (f *ChangeFeed) consume(ctx context.Context, cs *mongo.ChangeStream, spec ports.WatchSpec, notify func(ports.ChangeNotice)) bson.Raw {
	var token bson.Raw
	for cs.Next(ctx) {
		token = cs.ResumeToken()
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			f.log.Warn().Err(err).Str("collection", spec.Collection).Msg("undecodable change event")
			notify(ports.ChangeNotice{Collection: spec.Collection})
			continue
		}
		notify(ports.ChangeNotice{
			Collection: spec.Collection,
			Operation:  ev.OperationType,
			DocumentID: fmt.Sprint(ev.DocumentKey.ID),
		})
	}
	return token
}

// reopen retries until a stream opens or ctx ends. A resume token that
// fails once is dropped; the Resync notice covers the gap.
func (f *ChangeFeed) reopen(ctx context.Context, spec ports.WatchSpec, token bson.Raw, bo *backoff.ExponentialBackOff, log zerolog.Logger) (*mongo.ChangeStream, bool) {
	for attempt := 1; ; attempt++ {
		delay := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		cs, err := f.open(ctx, spec, token)
		if err == nil {
			metrics.RealtimeReconnectsTotal.WithLabelValues(driverName, "ok").Inc()
			log.Info().Int("attempt", attempt).Msg("change stream reopened")
			bo.Reset()
			return cs, true
		}
		metrics.RealtimeReconnectsTotal.WithLabelValues(driverName, "error").Inc()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("reopening change stream failed")
		token = nil
	}
}

// reconnectBackOff doubles from initial up to maxDelay with ±20% jitter.
// Zero bounds fall back to 250ms and 30s.
func reconnectBackOff(initial, maxDelay time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	if initial > 0 {
		bo.InitialInterval = initial
	}
	if maxDelay >= bo.InitialInterval {
		bo.MaxInterval = maxDelay
	}
	bo.Reset()
	return bo
}

// watchPipeline matches inserts and updates whose full document satisfies
// filter. Deletes carry no document and always pass; a spurious refresh is
// harmless.
func watchPipeline(filter map[string]any) mongo.Pipeline {
	if len(filter) == 0 {
		return mongo.Pipeline{}
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	match := bson.D{}
	for _, k := range keys {
		match = append(match, bson.E{Key: "fullDocument." + k, Value: filter[k]})
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			match,
			bson.D{{Key: "operationType", Value: "delete"}},
		}}}}},
	}
}
