package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/announce"
	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/audit"
	"github.com/strefethen/dunehd-driver-go/internal/auth"
	"github.com/strefethen/dunehd-driver-go/internal/config"
	"github.com/strefethen/dunehd-driver-go/internal/db"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/devices"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
	"github.com/strefethen/dunehd-driver-go/internal/hub"
	"github.com/strefethen/dunehd-driver-go/internal/metrics"
	"github.com/strefethen/dunehd-driver-go/internal/mqtt"
	"github.com/strefethen/dunehd-driver-go/internal/store"
	"github.com/strefethen/dunehd-driver-go/internal/system"
)

const (
	// HubPath is where the integration WebSocket is served.
	HubPath     = "/ws"
	serviceName = "dunehd-driver"
)

// requestLoggerMiddleware logs every request with its status and latency.
// chi's wrapper keeps http.Hijacker so the hub upgrade still works.
func requestLoggerMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  api.GetRequestID(r),
			}).Info("http request")
		})
	}
}

// DeviceClient polls and commands players and probes new ones.
type DeviceClient interface {
	device.Client
	devices.Prober
}

// Options controls server wiring.
type Options struct {
	// Client replaces the HTTP device client, for tests.
	Client          DeviceClient
	DisableAnnounce bool
	DisableMQTT     bool
}

// NewHandler builds the HTTP handler and returns a shutdown function that
// stops the registry first so in-flight polls finish before storage closes.
func NewHandler(cfg config.Config, logger logrus.FieldLogger, options Options) (http.Handler, func(context.Context) error, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("path", cfg.SQLiteDBPath).Info("using database")
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	ctx := context.Background()
	repo := store.NewRepository(dbPair)
	if cfg.DevicesFile != "" {
		count, err := repo.ImportFile(ctx, cfg.DevicesFile)
		if err != nil {
			_ = dbPair.Close()
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{"file": cfg.DevicesFile, "count": count}).Info("devices imported")
	}

	auditService := audit.NewService(dbPair, audit.ServiceOptions{
		RetentionDays: cfg.AuditRetentionDays,
		PruneSchedule: cfg.AuditPruneSchedule,
		Logger:        logger,
	})
	recorder := audit.NewRecorder(auditService, logger)
	collector := metrics.New()

	var authenticate func(r *http.Request) error
	if cfg.AuthEnabled() {
		authenticate = func(r *http.Request) error {
			_, err := auth.Authenticate(cfg, r)
			return err
		}
	}
	integration := hub.New(hub.Options{
		Info:         hub.DriverInfo{ID: cfg.DriverID, Name: cfg.DriverName, Version: cfg.DriverVersion},
		Authenticate: authenticate,
		Logger:       logger,
	})

	publishers := device.Publishers{integration}
	observers := device.Observers{collector, recorder, integration}

	var mqttClient *mqtt.Client
	var mirror *mqtt.Mirror
	if cfg.MQTT.Enabled() && !options.DisableMQTT {
		mqttClient, err = mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.WithError(err).Warn("mqtt mirror disabled")
		} else {
			mirror = mqtt.NewMirror(mqttClient, cfg.MQTT.TopicPrefix, logger)
			publishers = append(publishers, mirror)
			observers = append(observers, mirror)
		}
	}

	var client DeviceClient = dunehd.NewClient(cfg.DuneTimeout())
	if options.Client != nil {
		client = options.Client
	}

	registry := device.NewRegistry(repo, device.Options{
		Client:           client,
		Publisher:        publishers,
		Observer:         observers,
		Logger:           logger,
		PollInterval:     cfg.PollInterval(),
		RequestTimeout:   cfg.DuneTimeout(),
		FailureThreshold: cfg.FailureThreshold,
		WakeDelay:        cfg.WakeDelay(),
	})
	integration.SetRegistry(registry)
	if mirror != nil {
		if err := mirror.Start(registry); err != nil {
			logger.WithError(err).Warn("mqtt command subscription failed")
		}
	}
	if err := registry.LoadAll(ctx); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}

	deviceService := devices.NewService(devices.Options{
		Store:       repo,
		Registry:    registry,
		Prober:      client,
		Events:      deviceEvents{recorder: recorder, collector: collector},
		DefaultPort: cfg.DunePort,
		Logger:      logger,
	})

	systemOptions := system.Options{
		Version: cfg.DriverVersion,
		DB:      dbPair,
		Devices: registry,
		Hub:     integration,
		Audit:   auditService,
		Logger:  logger,
	}
	if mqttClient != nil {
		systemOptions.Broker = mqttClient
	}
	systemService := system.NewService(systemOptions)

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.RecovererMiddleware(logger))

	registerHealthRoutes(router, dbPair, auditService)
	router.Method(http.MethodGet, "/metrics", collector.Handler())
	router.Handle(HubPath, integration)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg))
		registerExportRoute(r, repo)
		devices.RegisterRoutes(r, deviceService)
		audit.RegisterRoutes(r, auditService)
		system.RegisterRoutes(r, systemService)
	})

	if err := auditService.StartPruneJob(); err != nil {
		logger.WithError(err).Warn("audit prune job not scheduled")
	}
	level := audit.EventLevelInfo
	if _, err := auditService.RecordEvent(ctx, audit.WriteEventInput{
		Type:    string(audit.EventSystemStartup),
		Level:   &level,
		Message: serviceName + " " + cfg.DriverVersion + " started",
	}); err != nil {
		logger.WithError(err).Warn("startup event not recorded")
	}

	var announcer *announce.Announcer
	if cfg.MDNSEnabled && !options.DisableAnnounce {
		port, _ := strconv.Atoi(cfg.Port)
		announcer = announce.New(announce.Info{
			ID:        cfg.DriverID,
			Name:      cfg.DriverName,
			Version:   cfg.DriverVersion,
			Developer: cfg.Developer,
			WSPath:    HubPath,
			Port:      port,
		}, logger)
		if err := announcer.Start(); err != nil {
			logger.WithError(err).Warn("mdns announcement failed")
		}
	}

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		var errs []error
		if announcer != nil {
			announcer.Shutdown()
		}
		if err := registry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		integration.Shutdown()
		if mirror != nil {
			mirror.Close()
		}
		if mqttClient != nil {
			errs = append(errs, mqttClient.Close())
		}
		recorder.Close()
		auditService.StopPruneJob()
		errs = append(errs, dbPair.Close())
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}

// deviceEvents forwards device configuration changes to the audit log and
// drops the metric series of removed devices.
type deviceEvents struct {
	recorder  *audit.Recorder
	collector *metrics.Collector
}

func (e deviceEvents) DeviceConfigured(ctx context.Context, entityID, address string) {
	e.recorder.DeviceConfigured(ctx, entityID, address)
}

func (e deviceEvents) DeviceRemoved(ctx context.Context, entityID string) {
	e.recorder.DeviceRemoved(ctx, entityID)
	e.collector.Forget(entityID)
}
