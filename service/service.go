package service

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/admin"
	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/migrations"
	"github.com/Catrya/mostro/disputes"
	"github.com/Catrya/mostro/events"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/lnclient/lnd"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/orders"
	"github.com/Catrya/mostro/rates"
	"github.com/Catrya/mostro/relay"
	"github.com/Catrya/mostro/router"
	"github.com/Catrya/mostro/scheduler"
)

// ErrLightningUnavailable marks a startup failure caused by the node being
// unreachable after the connection retry budget.
var ErrLightningUnavailable = errors.New("lightning node unreachable")

// Service wires the daemon together: config, database, lightning, relays,
// the order engine and the periodic jobs.
type Service struct {
	cfg            *config.Config
	db             *gorm.DB
	lnClient       lnclient.LNClient
	relaySvc       *relay.Service
	ordersSvc      *orders.Service
	adminSvc       *admin.Service
	eventPublisher events.EventPublisher

	wg sync.WaitGroup
}

func NewService(ctx context.Context) (*Service, error) {
	// Load config from environment variables / .env file
	godotenv.Load(".env")
	appConfig := &config.AppConfig{}
	if err := envconfig.Process("", appConfig); err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)

	if appConfig.Workdir == "" {
		appConfig.Workdir = filepath.Join(xdg.DataHome, "/mostro")
		logger.Logger.Info().Str("workdir", appConfig.Workdir).Msg("No workdir specified, using default")
	}
	os.MkdirAll(appConfig.Workdir, os.ModePerm)

	if appConfig.LogToFile {
		if err := logger.AddFileLogger(appConfig.Workdir); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(appConfig)
	if err != nil {
		return nil, err
	}

	// A bare filename lands in the workdir; URIs and paths are left alone.
	databaseUri := cfg.Settings.Database.Url
	if dir, _ := filepath.Split(databaseUri); dir == "" {
		databaseUri = filepath.Join(appConfig.Workdir, databaseUri)
	}
	gormDB, err := db.NewDB(databaseUri, false)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(gormDB); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to migrate database")
		return nil, err
	}

	eventPublisher := events.NewEventPublisher()

	lnClient, err := launchLightning(ctx, cfg, eventPublisher)
	if err != nil {
		eventPublisher.Publish(&events.Event{Event: events.NodeStartFailedEvent})
		return nil, errors.Join(ErrLightningUnavailable, err)
	}
	eventPublisher.Publish(&events.Event{Event: events.NodeStartedEvent})

	ratesSvc := rates.NewService(cfg.Settings.Rate.Provider)
	if err := ratesSvc.Refresh(ctx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Initial rate fetch failed, will retry on schedule")
	}

	relaySvc, err := relay.NewService(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ordersSvc := orders.NewService(gormDB, cfg, lnClient, relaySvc, ratesSvc, eventPublisher)
	eventPublisher.RegisterSubscriber(orders.NewLnConsumer(ordersSvc))

	disputesMgr := disputes.NewManager(gormDB, relaySvc)
	adminSvc := admin.NewService(gormDB, ordersSvc, disputesMgr, relaySvc)
	messageRouter := router.New(gormDB, ordersSvc, adminSvc, relaySvc)

	// Catch up on whatever the node did while we were down before accepting
	// new traffic.
	if err := ordersSvc.Reconcile(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Startup reconciliation failed")
		return nil, err
	}

	svc := &Service{
		cfg:            cfg,
		db:             gormDB,
		lnClient:       lnClient,
		relaySvc:       relaySvc,
		ordersSvc:      ordersSvc,
		adminSvc:       adminSvc,
		eventPublisher: eventPublisher,
	}

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		if err := relaySvc.Subscribe(ctx, messageRouter.HandleGift); err != nil {
			logger.Logger.Error().Err(err).Msg("Relay subscription ended with error")
		}
	}()

	sched := scheduler.New(cfg, ordersSvc, ratesSvc)
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		sched.Run(ctx)
	}()

	return svc, nil
}

// launchLightning connects to LND, hex-encoding the cert and macaroon the
// way the transport wrapper expects them.
func launchLightning(ctx context.Context, cfg *config.Config, eventPublisher events.EventPublisher) (lnclient.LNClient, error) {
	lightning := cfg.Settings.Lightning

	certHex := ""
	if lightning.Cert != "" {
		certHex = hex.EncodeToString([]byte(lightning.Cert))
	}

	macaroonHex := lightning.Macaroon
	if macBytes, err := os.ReadFile(lightning.Macaroon); err == nil {
		macaroonHex = hex.EncodeToString(macBytes)
	}

	return lnd.NewLNDService(ctx, eventPublisher, lightning.Url, certHex, macaroonHex)
}

func (svc *Service) GetConfig() *config.Config {
	return svc.cfg
}

func (svc *Service) GetDB() *gorm.DB {
	return svc.db
}

func (svc *Service) GetAdminService() *admin.Service {
	return svc.adminSvc
}

func (svc *Service) GetRelayService() *relay.Service {
	return svc.relaySvc
}

func (svc *Service) GetEventPublisher() events.EventPublisher {
	return svc.eventPublisher
}

// Shutdown waits for the background loops to exit and disconnects from the
// node. Callers cancel the service context first.
func (svc *Service) Shutdown() {
	svc.wg.Wait()
	if err := svc.lnClient.Shutdown(); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to disconnect from lightning node")
	}
	logger.Logger.Info().Msg("Service shut down")
}
