package cmd

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/config"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runtime holds the process-wide collaborators shared by every command that
// talks to the workspace: one signaling connection, one media service and
// one peer connection API.
type Runtime struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *metrics.Recorder
	API       *api.Client
	Self      api.User
	Signaling *signaling.Client
	Media     *media.Service
	Peers     *peer.Manager
}

// NewRuntime loads configuration, resolves the local user and connects to
// the signaling bus.
func NewRuntime(ctx context.Context, cmd *cobra.Command) (*Runtime, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, errs.New("load config", err)
	}

	rt := &Runtime{
		Config:  cfg,
		Log:     zap.L(),
		Metrics: metrics.New(),
		API:     api.NewClient(cfg.APIURL, cfg.Token, zap.L()),
	}

	if flagUser != "" {
		rt.Self = api.User{ID: flagUser, Username: flagUser, Name: flagUser}
	} else {
		stop := ui.RunConnectionSpinner("Signing in...")
		rt.Self, err = api.NewIdentity(rt.API).Get(ctx)
		stop()
		if err != nil {
			return nil, errs.New("resolve user", err)
		}
	}

	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	rt.Signaling = signaling.NewClient(signaling.Options{
		URL:    cfg.SignalingURL,
		UserID: rt.Self.ID,
		Token:  cfg.Token,
		Codec:  codec,
	}, rt.Log)

	stop := ui.RunConnectionSpinner("Connecting to server...")
	err = rt.Signaling.Connect(ctx)
	stop()
	if err != nil {
		return nil, errs.New("connect to server", err)
	}

	var src media.Source = media.DeviceSource{}
	if cfg.MediaSource == "synthetic" {
		src = &media.SyntheticSource{}
	}
	rt.Media = media.NewService(src, media.Options{Width: cfg.VideoWidth, Height: cfg.VideoHeight}, rt.Log)

	rt.Peers, err = peer.NewManager(peer.Config{STUNServers: cfg.STUNServers, Metrics: rt.Metrics}, rt.Log)
	if err != nil {
		rt.Close()
		return nil, errs.New("create peer api", err)
	}
	return rt, nil
}

// Controller builds a call controller over the runtime's collaborators.
// Calls are only logged to the backend when the user came from it.
func (rt *Runtime) Controller() *call.Controller {
	var callLog call.CallLogger
	if flagUser == "" {
		callLog = rt.API
	}
	return call.New(call.Options{
		Self:           rt.Self,
		Signaler:       rt.Signaling,
		Media:          rt.Media,
		Links:          call.PeerLinks(rt.Peers),
		CallLog:        callLog,
		CallLogTimeout: rt.Config.CallLogTimeout,
		Metrics:        rt.Metrics,
		Logger:         rt.Log,
	})
}

// ServeMetrics exposes the recorder on metrics_addr until ctx is done. It
// does nothing when no address is configured.
func (rt *Runtime) ServeMetrics(ctx context.Context, g *errgroup.Group) {
	serveMetrics(ctx, g, rt.Config.MetricsAddr, rt.Metrics.Handler(), rt.Log)
}

func (rt *Runtime) Close() {
	if rt.Signaling != nil {
		rt.Signaling.Close()
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, h http.Handler, log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.New("serve metrics", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// outcome follows one call from the controller's events so a summary can
// be printed once it is over.
type outcome struct {
	mu          sync.Mutex
	session     *call.Session
	connectedAt time.Time
	endedAt     time.Time
	notice      *call.Notice
}

func (o *outcome) observe(ev call.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Kind {
	case call.EventStateChanged:
		if ev.Session != nil {
			s := *ev.Session
			o.session = &s
		}
		switch ev.Status {
		case call.StatusConnected:
			if o.connectedAt.IsZero() {
				o.connectedAt = time.Now()
			}
		case call.StatusIdle:
			o.endedAt = time.Now()
		}
	case call.EventNotice:
		n := ev.Notice
		o.notice = &n
	}
}

// reset forgets the previous call so the listener can track the next one.
func (o *outcome) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = nil
	o.connectedAt = time.Time{}
	o.endedAt = time.Time{}
	o.notice = nil
}

func (o *outcome) summary() (ui.CallSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ui.CallSummary{}, false
	}

	s := ui.CallSummary{
		Counterpart: o.session.CounterpartName,
		CallType:    string(o.session.Type),
		Role:        string(o.session.Role),
		Outcome:     "Ended",
	}
	if s.Counterpart == "" {
		s.Counterpart = o.session.CounterpartID
	}
	if !o.connectedAt.IsZero() && !o.endedAt.IsZero() {
		s.Duration = o.endedAt.Sub(o.connectedAt)
	}
	if o.notice != nil {
		s.Outcome = ui.DescribeNotice(*o.notice)
	}
	return s, true
}
