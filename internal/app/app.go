// Package app initializes and holds long-lived application services,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/clock/system"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	collyfetcher "github.com/fcdockets/imm-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/fcdockets/imm-crawler/internal/fetcher/headless"
	"github.com/fcdockets/imm-crawler/internal/id/uuid"
	"github.com/fcdockets/imm-crawler/internal/logging"
	gcsstore "github.com/fcdockets/imm-crawler/internal/payload/gcs"
	localstore "github.com/fcdockets/imm-crawler/internal/payload/local"
	pubsubpublisher "github.com/fcdockets/imm-crawler/internal/publisher/pubsub"
	memorytracker "github.com/fcdockets/imm-crawler/internal/tracker/memory"
	postgrestracker "github.com/fcdockets/imm-crawler/internal/tracker/postgres"
	sqlitetracker "github.com/fcdockets/imm-crawler/internal/tracker/sqlite"
)

// App holds the shared, long-lived services for the crawler. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	logger    *zap.Logger
	tracker   crawl.Tracker
	fetcher   crawl.Fetcher
	payloads  crawl.PayloadStore
	publisher crawl.Publisher
	registry  *prometheus.Registry
	clock     crawl.Clock
	idGen     crawl.IDGenerator

	pubsubClient *pubsub.Client
	gcsClient    *gstorage.Client
	topic        string
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Tracker returns the configured case tracker.
func (a *App) Tracker() crawl.Tracker { return a.tracker }

// Fetcher returns the configured docket fetcher.
func (a *App) Fetcher() crawl.Fetcher { return a.fetcher }

// Payloads returns the payload store, or nil when persistence is off.
func (a *App) Payloads() crawl.PayloadStore { return a.payloads }

// Publisher returns the attempt publisher, or nil when publishing is off.
func (a *App) Publisher() crawl.Publisher { return a.publisher }

// PublisherTopic returns the topic attempts are published to.
func (a *App) PublisherTopic() string { return a.topic }

// Registry returns the process-wide prometheus registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Clock returns the shared clock.
func (a *App) Clock() crawl.Clock { return a.clock }

// IDGen returns the run-ID generator.
func (a *App) IDGen() crawl.IDGenerator { return a.idGen }

// NewApp builds every service selected by the configuration. It fails
// fast: a misconfigured driver aborts startup before any state is
// written.
func NewApp(ctx context.Context) (*App, error) {
	l := logging.L
	l.Info("initializing application services")

	a := &App{
		logger:   l,
		registry: prometheus.NewRegistry(),
		clock:    system.New(),
		idGen:    uuid.New(),
	}
	a.registry.MustRegister(collectors.NewGoCollector())
	a.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.initTracker(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initFetcher(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initPayloadStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	l.Info("application services initialized")
	return a, nil
}

func (a *App) initTracker(ctx context.Context) error {
	driver := viper.GetString("tracker.driver")
	switch driver {
	case "sqlite":
		path := viper.GetString("tracker.sqlite.path")
		a.logger.Info("using sqlite tracker", zap.String("path", path))
		t, err := sqlitetracker.New(ctx, path)
		if err != nil {
			return fmt.Errorf("init sqlite tracker: %w", err)
		}
		a.tracker = t
	case "postgres":
		dsn := viper.GetString("tracker.postgres.dsn")
		if dsn == "" {
			return fmt.Errorf("tracker driver is 'postgres' but tracker.postgres.dsn is not set")
		}
		a.logger.Info("connecting to postgres tracker")
		t, err := postgrestracker.New(ctx, postgrestracker.Config{
			DSN:             dsn,
			RecordsTable:    viper.GetString("tracker.postgres.records_table"),
			BoundariesTable: viper.GetString("tracker.postgres.boundaries_table"),
		})
		if err != nil {
			return fmt.Errorf("init postgres tracker: %w", err)
		}
		if err := t.Migrate(ctx); err != nil {
			t.Close()
			return fmt.Errorf("migrate postgres tracker: %w", err)
		}
		a.tracker = t
	case "memory":
		a.logger.Info("using in-memory tracker; state will not survive the process")
		a.tracker = memorytracker.New()
	default:
		return fmt.Errorf("unknown tracker driver: %s", driver)
	}
	return nil
}

func (a *App) initFetcher() error {
	driver := viper.GetString("fetcher.driver")
	switch driver {
	case "colly":
		f, err := collyfetcher.New(collyfetcher.Config{
			BaseURL:        viper.GetString("fetcher.base_url"),
			UserAgent:      viper.GetString("fetcher.user_agent"),
			RequestTimeout: viper.GetDuration("fetcher.timeout"),
			NoRecordMarker: viper.GetString("fetcher.no_record_marker"),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init colly fetcher: %w", err)
		}
		a.fetcher = f
	case "headless":
		f, err := headlessfetcher.New(headlessfetcher.Config{
			BaseURL:        viper.GetString("fetcher.base_url"),
			UserAgent:      viper.GetString("fetcher.user_agent"),
			NavTimeout:     viper.GetDuration("fetcher.headless_nav_timeout"),
			NoRecordMarker: viper.GetString("fetcher.no_record_marker"),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.fetcher = f
	default:
		return fmt.Errorf("unknown fetcher driver: %s", driver)
	}
	return nil
}

func (a *App) initPayloadStore(ctx context.Context) error {
	driver := viper.GetString("payload.driver")
	switch driver {
	case "local":
		s, err := localstore.New(localstore.Config{
			BaseDir: viper.GetString("payload.local.base_dir"),
		})
		if err != nil {
			return fmt.Errorf("init local payload store: %w", err)
		}
		a.payloads = s
	case "gcs":
		bucket := viper.GetString("payload.gcs.bucket")
		if bucket == "" {
			return fmt.Errorf("payload driver is 'gcs' but payload.gcs.bucket is not set")
		}
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		s, err := gcsstore.New(client, gcsstore.Config{Bucket: bucket})
		if err != nil {
			return fmt.Errorf("init gcs payload store: %w", err)
		}
		a.logger.Info("using gcs payload store", zap.String("bucket", bucket))
		a.payloads = s
	case "none":
		a.logger.Info("payload persistence disabled; fetched content will be discarded")
	default:
		return fmt.Errorf("unknown payload driver: %s", driver)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	topic := viper.GetString("publisher.topic")
	if topic == "" {
		return nil
	}
	projectID := viper.GetString("publisher.project_id")
	if projectID == "" {
		return fmt.Errorf("publisher.topic is set but publisher.project_id is not")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	p, err := pubsubpublisher.New(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.logger.Info("publishing attempts to pub/sub", zap.String("topic", topic))
	a.publisher = p
	a.topic = topic
	return nil
}

// Close tears down every service that was initialized. Safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	if a.fetcher != nil {
		if err := a.fetcher.Close(ctx); err != nil {
			a.logger.Warn("close fetcher", zap.Error(err))
		}
	}
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			a.logger.Warn("close tracker", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if p, ok := a.publisher.(*pubsubpublisher.Publisher); ok {
			if err := p.Close(); err != nil {
				a.logger.Warn("close publisher", zap.Error(err))
			}
		}
	} else if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
}
