package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/alerts"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/events"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/exports"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/notifications"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/cloud"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	alertrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/alerts"
	devicerepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/devices"
	prefrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/samples"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/presentation/api"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/presentation/gateway"
)

const serviceName string = "iot-energy-mgmt"

func main() {
	serviceVersion := version()

	settings := loadSettings(viper.New())

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion, settings.LogLevel)
	logger.Info().Msg("starting up ...")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := tracing.Init(ctx, logger, settings.OtelEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer cleanup()

	cfg := loadConfigurationFile(logger, settings.ConfigFile)

	storage, err := setupStorage(ctx, logger, settings)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up storage")
	}

	var publisher alerts.Publisher
	var messenger messaging.MsgContext

	if settings.RabbitMQEnabled {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init messaging")
		}
		defer messenger.Close()

		publisher = messenger
	}

	app, we, r, err := createAppAndSetupRouter(ctx, logger, settings, cfg, storage, publisher)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create application")
	}

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(ingestion.SampleTopic, ingestion.NewSampleTopicHandler(app.Ingestor()))
	}

	startGateways(ctx, logger, settings, app.Ingestor())

	app.Start(ctx)
	defer app.Stop()

	server := &http.Server{Addr: ":" + settings.ServicePort, Handler: r}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down ...")

		we.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("port", settings.ServicePort).Msg("starting to listen for connections")

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("failed to start request router")
	}
}

type settings struct {
	ServicePort        string
	LogLevel           string
	OtelEndpoint       string
	DevicesFile        string
	ConfigFile         string
	DBDriver           string
	Retention          time.Duration
	EvaluationInterval time.Duration
	RabbitMQEnabled    bool
	MQTTBroker         string
	MQTTTopic          string
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaGroupID       string
	AWSRegion          string
	SNSTopicArn        string
	S3Bucket           string
}

// loadSettings reads service settings from the environment. Defaults run the service
// standalone with in-memory storage.
func loadSettings(v *viper.Viper) settings {
	v.SetDefault("SERVICE_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("DEVICES_FILE", "/opt/diwise/config/devices.csv")
	v.SetDefault("CONFIG_FILE", "/opt/diwise/config/config.yaml")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("RETENTION", "840h")
	v.SetDefault("EVALUATION_INTERVAL", "")
	v.SetDefault("RABBITMQ_ENABLED", false)
	v.SetDefault("MQTT_BROKER", "")
	v.SetDefault("MQTT_TOPIC", gateway.DefaultMQTTTopic)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", gateway.DefaultKafkaTopic)
	v.SetDefault("KAFKA_GROUP_ID", serviceName)
	v.SetDefault("AWS_REGION", "eu-north-1")
	v.SetDefault("AWS_SNS_TOPIC_ARN", "")
	v.SetDefault("AWS_S3_BUCKET", "")

	v.AutomaticEnv()

	s := settings{
		ServicePort:        v.GetString("SERVICE_PORT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		OtelEndpoint:       v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DevicesFile:        v.GetString("DEVICES_FILE"),
		ConfigFile:         v.GetString("CONFIG_FILE"),
		DBDriver:           strings.ToLower(v.GetString("DB_DRIVER")),
		Retention:          v.GetDuration("RETENTION"),
		EvaluationInterval: v.GetDuration("EVALUATION_INTERVAL"),
		RabbitMQEnabled:    v.GetBool("RABBITMQ_ENABLED"),
		MQTTBroker:         v.GetString("MQTT_BROKER"),
		MQTTTopic:          v.GetString("MQTT_TOPIC"),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		KafkaGroupID:       v.GetString("KAFKA_GROUP_ID"),
		AWSRegion:          v.GetString("AWS_REGION"),
		SNSTopicArn:        v.GetString("AWS_SNS_TOPIC_ARN"),
		S3Bucket:           v.GetString("AWS_S3_BUCKET"),
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		s.KafkaBrokers = strings.Split(brokers, ",")
	}

	return s
}

func loadConfigurationFile(logger zerolog.Logger, path string) *application.Config {
	f, err := os.Open(path)
	if err != nil {
		logger.Info().Msgf("no configuration file at %s, using defaults", path)
		return application.DefaultConfig()
	}
	defer f.Close()

	cfg, err := application.LoadConfiguration(f)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to load configuration from %s", path)
	}

	return cfg
}

func setupStorage(ctx context.Context, logger zerolog.Logger, s settings) (application.Storage, error) {
	var connect database.ConnectorFunc

	switch s.DBDriver {
	case "postgres":
		connect = database.NewPostgreSQLConnector(logger)
	case "sqlite":
		connect = database.NewSQLiteConnector(logger)
	default:
		return application.Storage{}, fmt.Errorf("unsupported database driver %q", s.DBDriver)
	}

	devices, err := devicerepo.NewDeviceRepository(connect)
	if err != nil {
		return application.Storage{}, err
	}

	alertRepo, err := alertrepo.NewAlertRepository(connect)
	if err != nil {
		return application.Storage{}, err
	}

	prefs, err := prefrepo.NewPreferenceRepository(connect)
	if err != nil {
		return application.Storage{}, err
	}

	if f, err := os.Open(s.DevicesFile); err == nil {
		err = seedDevices(ctx, devices, f)
		if err != nil {
			return application.Storage{}, err
		}
	} else {
		logger.Warn().Msgf("no devices file at %s, starting with an empty registry", s.DevicesFile)
	}

	return application.Storage{
		Samples:     samples.NewSampleStore(s.Retention),
		Devices:     devices,
		Alerts:      alertRepo,
		Preferences: prefs,
	}, nil
}

func seedDevices(ctx context.Context, devices devicerepo.DeviceRepository, f io.ReadCloser) error {
	defer f.Close()
	return devices.Seed(ctx, f)
}

func createAppAndSetupRouter(ctx context.Context, logger zerolog.Logger, s settings, cfg *application.Config, storage application.Storage, publisher alerts.Publisher) (application.App, webevents.WebEvents, *chi.Mux, error) {
	if s.EvaluationInterval > 0 {
		cfg.Scheduler.Interval = s.EvaluationInterval
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	we := webevents.New()
	notifiers := []alerts.Notifier{we}

	if len(cfg.Notifications) > 0 {
		sender, err := events.New(cfg.Events())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create event sender: %w", err)
		}
		notifiers = append(notifiers, sender)
	}

	var exporter exports.Exporter

	if s.SNSTopicArn != "" || s.S3Bucket != "" {
		awsCfg, err := cloud.LoadConfig(ctx, s.AWSRegion)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load aws configuration: %w", err)
		}

		if s.SNSTopicArn != "" {
			logger.Info().Msgf("sending notifications to %s", s.SNSTopicArn)
			dispatcher := notifications.NewDispatcher(cloud.NewSNSClient(awsCfg), s.SNSTopicArn, preferences.New(storage.Preferences))
			notifiers = append(notifiers, dispatcher)
		}

		if s.S3Bucket != "" {
			logger.Info().Msgf("exporting data to bucket %s", s.S3Bucket)
			client, presigner := cloud.NewS3Client(awsCfg)
			exporter = exports.New(aggregation.New(storage.Samples, cfg.Aggregation), client, presigner, s.S3Bucket)
		}
	}

	app := application.New(cfg, storage, publisher, exporter, m, notifiers...)

	r := router.New(serviceName)
	api.RegisterHandlers(logger, r, app, we, m)

	return app, we, r, nil
}

func startGateways(ctx context.Context, logger zerolog.Logger, s settings, ing ingestion.Ingestor) {
	if s.MQTTBroker != "" {
		g := gateway.NewMQTTGateway(s.MQTTBroker, serviceName, s.MQTTTopic, ing)
		if err := g.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msgf("failed to connect to mqtt broker %s", s.MQTTBroker)
		}

		go func() {
			<-ctx.Done()
			g.Stop()
		}()
	}

	if len(s.KafkaBrokers) > 0 {
		g := gateway.NewKafkaGateway(s.KafkaBrokers, s.KafkaTopic, s.KafkaGroupID, ing)

		go func() {
			defer g.Close()
			if err := g.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("kafka gateway stopped")
			}
		}()
	}
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
