// Package service wires the stores, resolvers and dispatchers together and
// owns the process lifecycle.
package service

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"forum-mailer/config"
	"forum-mailer/database"
	"forum-mailer/mailer"
	"forum-mailer/subscription"
	"forum-mailer/tracker"
)

// Service encapsulates the mailing service's state.
type Service struct {
	Config     *config.Config
	DB         *sql.DB
	Stores     *database.Stores
	Resolver   *subscription.Resolver
	Tracker    *tracker.Tracker
	Status     *database.StatusManager
	Dispatcher *mailer.Dispatcher
	Digester   *mailer.Digester
}

// Option overrides a default dependency before the dispatchers are built.
type Option func(*deps)

type deps struct {
	transport mailer.Transport
	renderer  mailer.Renderer
	caps      mailer.Capability
}

// WithTransport replaces the SMTP transport.
func WithTransport(t mailer.Transport) Option {
	return func(d *deps) { d.transport = t }
}

// WithRenderer replaces the plain-text renderer.
func WithRenderer(r mailer.Renderer) Option {
	return func(d *deps) { d.renderer = r }
}

// WithCapability replaces the permissive default visibility rules.
func WithCapability(c mailer.Capability) Option {
	return func(d *deps) { d.caps = c }
}

// NewService creates and initializes a new Service instance.
func NewService(opts ...Option) (*Service, error) {
	config.LoadConfig()
	cfg, err := config.FromViper()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	db, err := database.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	stores := database.NewStores(db)

	status := database.NewStatusManager(cfg.StatusFile)
	if err := status.Load(); err != nil {
		return nil, fmt.Errorf("error loading run status: %w", err)
	}

	d := &deps{
		transport: mailer.NewSMTPTransport(cfg.SMTP),
		renderer:  &mailer.TextRenderer{SiteName: cfg.SiteName},
		caps:      mailer.PermissiveCapability{},
	}
	for _, opt := range opts {
		opt(d)
	}

	resolver := subscription.NewResolver(stores.Subscriptions, stores.Forums, stores.Users, d.caps)
	trk := tracker.New(stores.Reads, stores.Forums, stores.Users, cfg.OldPostDays, cfg.ForcedReadTracking)

	return &Service{
		Config:   cfg,
		DB:       db,
		Stores:   stores,
		Resolver: resolver,
		Tracker:  trk,
		Status:   status,
		Dispatcher: mailer.NewDispatcher(cfg, stores, resolver, trk, status,
			d.transport, d.renderer, d.caps),
		Digester: mailer.NewDigester(cfg, stores, resolver, trk, status,
			d.transport, d.renderer, d.caps),
	}, nil
}

// Start launches the scheduled jobs.
func (s *Service) Start() error {
	if err := startScheduler(s); err != nil {
		return err
	}
	fmt.Println("Forum mailer is now running. Press CTRL-C to exit.")
	return nil
}

// Stop gracefully shuts the service down.
func (s *Service) Stop() {
	stopScheduler()
	if s.DB != nil {
		s.DB.Close()
	}
	fmt.Println("Forum mailer stopped gracefully.")
}

// Run is the main entry point for the service.
func Run() {
	svc, err := NewService()
	if err != nil {
		log.Fatalf("Error initializing service: %v", err)
	}

	if err := svc.Start(); err != nil {
		log.Fatalf("Error starting service: %v", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	svc.Stop()
}
