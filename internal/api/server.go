package api

import (
	"sync/atomic"

	"go.uber.org/zap"

	"dataman/internal/analytics"
	"dataman/internal/captcher"
	"dataman/internal/dataman"
	"dataman/internal/logging"
	"dataman/internal/registry"
)

// Server — зависимости обработчиков. Реестр можно подменить на лету (admin reload).
type Server struct {
	Sender    dataman.Sender
	Builder   dataman.Builder
	Captcher  *captcher.Captcher // nil — маршруты captcher отвечают 503
	Analytics *analytics.Client

	AllowUnregistered bool
	RegistryPath      string

	Log *zap.SugaredLogger

	registry atomic.Pointer[registry.Registry]
}

func NewServer(sender dataman.Sender, builder dataman.Builder, reg *registry.Registry, log *zap.SugaredLogger) *Server {
	s := &Server{
		Sender:    sender,
		Builder:   builder,
		Analytics: analytics.NewClient(sender, log),
		Log:       logging.OrNop(log),
	}
	s.registry.Store(reg)
	return s
}

func (s *Server) Registry() *registry.Registry { return s.registry.Load() }

func (s *Server) SwapRegistry(reg *registry.Registry) { s.registry.Store(reg) }

func (s *Server) Linter() dataman.Linter { return dataman.Linter{Sender: s.Sender} }
