// Package app assembles repositories, services, handlers and the router.
// cmd/api and the end-to-end tests share it so both run the same graph.
package app

import (
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-api/internal/config"
	appointmentHandler "github.com/jwalitptl/consult-api/internal/handler/appointment"
	chatHandler "github.com/jwalitptl/consult-api/internal/handler/chat"
	consultationHandler "github.com/jwalitptl/consult-api/internal/handler/consultation"
	"github.com/jwalitptl/consult-api/internal/handler/health"
	paymentHandler "github.com/jwalitptl/consult-api/internal/handler/payment"
	slotHandler "github.com/jwalitptl/consult-api/internal/handler/slot"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/internal/router"
	appointmentService "github.com/jwalitptl/consult-api/internal/service/appointment"
	chatService "github.com/jwalitptl/consult-api/internal/service/chat"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	paymentService "github.com/jwalitptl/consult-api/internal/service/payment"
	slotService "github.com/jwalitptl/consult-api/internal/service/slot"
	"github.com/jwalitptl/consult-api/pkg/auth"
	"github.com/jwalitptl/consult-api/pkg/cache"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Repositories is one storage backend's full set of repositories.
type Repositories struct {
	Tx           repository.Transactor
	Slots        repository.SlotRepository
	Appointments repository.AppointmentRepository
	Payments     repository.PaymentRepository
	Messages     repository.MessageRepository
	Users        repository.UserRepository
	Doctors      repository.DoctorRepository
}

func MemoryRepositories(store *memory.Store) Repositories {
	repos := store.Repositories()
	return Repositories{
		Tx:           store,
		Slots:        repos.Slots,
		Appointments: repos.Appointments,
		Payments:     repos.Payments,
		Messages:     repos.Messages,
		Users:        repos.Users,
		Doctors:      repos.Doctors,
	}
}

func PostgresRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Tx:           postgres.NewTransactor(db),
		Slots:        postgres.NewSlotRepository(db),
		Appointments: postgres.NewAppointmentRepository(db),
		Payments:     postgres.NewPaymentRepository(db),
		Messages:     postgres.NewMessageRepository(db),
		Users:        postgres.NewUserRepository(db),
		Doctors:      postgres.NewDoctorRepository(db),
	}
}

// Deps are the process-level collaborators chosen by the caller.
type Deps struct {
	JWT      auth.JWTService
	Cache    cache.Cache
	Notifier notification.Notifier
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Checks   map[string]health.Checker
	Logger   zerolog.Logger
}

type App struct {
	Metrics      *metrics.Metrics
	Slots        *slotService.Service
	Appointments *appointmentService.Service
	Payments     *paymentService.Service
	Chat         *chatService.Service
	Hub          *consultation.Hub
	Router       *router.Router
}

func New(cfg *config.Config, repos Repositories, deps Deps) *App {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(cfg.Server.MetricsPrefix, deps.Registry)
	}
	logger := deps.Logger

	// Initialize services
	slots := slotService.NewService(repos.Slots, deps.Cache, cfg.Cache.SlotTTL, m, logger)
	appointments := appointmentService.NewService(repos.Tx, repos.Appointments, repos.Payments, repos.Users, slots, deps.Notifier, m, logger)
	payments := paymentService.NewService(repos.Tx, repos.Payments, repos.Doctors, appointments, deps.Notifier, cfg.Payment, m, logger)
	chat := chatService.NewService(repos.Messages, repos.Users, appointments, logger)
	hub := consultation.NewHub(appointments, chat, cfg.Chat.ParticipantTTL, m, logger)

	// Initialize handlers
	handlers := router.Handlers{
		Health:       health.NewHandler(deps.Registry, deps.Checks),
		Slots:        slotHandler.NewHandler(slots),
		Appointments: appointmentHandler.NewHandler(appointments),
		Payments:     paymentHandler.NewHandler(payments),
		Chat:         chatHandler.NewHandler(chat, appointments, hub),
		Consultation: consultationHandler.NewHandler(hub, deps.JWT, cfg.Chat, cfg.Server.AllowedOrigins, m, logger),
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(deps.JWT), handlers, router.RouterConfig{
		RateLimit:     rate.Limit(cfg.RateLimit.RPS),
		RateBurst:     cfg.RateLimit.Burst,
		CORSConfig:    middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...),
		MetricsPrefix: cfg.Server.MetricsPrefix,
		Registerer:    deps.Registry,
		Logger:        logger,
	})
	r.Setup()

	return &App{
		Metrics:      m,
		Slots:        slots,
		Appointments: appointments,
		Payments:     payments,
		Chat:         chat,
		Hub:          hub,
		Router:       r,
	}
}
