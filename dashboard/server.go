// Package dashboard serves the endorsement views over HTTP.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"skillendorse/gateway"
	"skillendorse/idempotency"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyperledger/fabric/common/flogging"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/recover"
)

var logger = flogging.MustGetLogger("skillendorse.dashboard")

const (
	headerRequestID      = "X-Request-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	contentTypeJSON = "application/json"

	// multipartOverhead is allowed on top of the attachment limit for the
	// form fields and part headers.
	multipartOverhead = 1 << 20
)

// Options wires a Server.
type Options struct {
	Service *gateway.Service
	Session *gateway.Session

	// Idempotency is optional. Without it Idempotency-Key headers are ignored.
	Idempotency *idempotency.Store

	// Metrics is optional. When set its registry is served on /metrics.
	Metrics *gateway.Metrics

	MaxUploadBytes int64
}

// Server is the dashboard application bound to one session.
type Server struct {
	svc     *gateway.Service
	sess    *gateway.Session
	idem    *idempotency.Store
	metrics *gateway.Metrics

	app       *iris.Application
	buildOnce sync.Once
	buildErr  error
}

// New registers every route. The returned server is not listening yet.
func New(opts Options) *Server {
	s := &Server{
		svc:     opts.Service,
		sess:    opts.Session,
		idem:    opts.Idempotency,
		metrics: opts.Metrics,
	}

	app := iris.New()
	app.Logger().SetLevel("warn")
	app.Validator = validator.New()
	app.UseRouter(requestID)
	app.UseRouter(recover.New())

	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"status": "ok"})
	})
	if s.metrics != nil {
		app.Get("/metrics", iris.FromStd(s.metrics.Handler()))
	}

	submit := []iris.Handler{s.mutation(s.submitEndorsement)}
	if opts.MaxUploadBytes > 0 {
		submit = append([]iris.Handler{iris.LimitRequestBodySize(opts.MaxUploadBytes + multipartOverhead)}, submit...)
	}

	api := app.Party("/api")
	{
		api.Get("/account", s.getAccount)

		api.Post("/endorsements", submit...)
		api.Get("/endorsements", s.searchEndorsements)

		api.Get("/subjects/{address}/endorsements", s.subjectEndorsements)
		api.Post("/subjects/{address}/endorsements/{index:int}/validate", s.mutation(s.validateEndorsement))

		api.Get("/validators", s.listValidators)
		api.Post("/validators", s.mutation(s.grantValidator))

		api.Get("/balances/{address}", s.getBalance)
	}

	s.app = app
	return s
}

// Handler builds the router once and returns it.
func (s *Server) Handler() (http.Handler, error) {
	s.buildOnce.Do(func() {
		s.buildErr = s.app.Build()
	})
	return s.app, s.buildErr
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			logger.Warningf("Shutdown: %v", err)
		}
	}()

	logger.Infof("Dashboard listening on %s as %s", addr, s.sess.Account)
	err := s.app.Listen(addr, iris.WithoutInterruptHandler, iris.WithoutStartupLog)
	if err != nil && !errors.Is(err, iris.ErrServerClosed) {
		return err
	}
	return nil
}

func requestID(ctx iris.Context) {
	id := ctx.GetHeader(headerRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	ctx.Values().Set("requestID", id)
	ctx.Header(headerRequestID, id)
	logger.Debugf("[%s] %s %s", id, ctx.Method(), ctx.Path())
	ctx.Next()
}

func reqID(ctx iris.Context) string {
	return ctx.Values().GetString("requestID")
}
