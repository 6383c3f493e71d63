package peer

import (
	"fmt"
	"time"

	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Config tunes the peer connection API shared by every Link.
type Config struct {
	STUNServers []string

	// ICE timeouts. Zero values fall back to the defaults below.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// LoopbackOnly restricts ICE to host candidates on UDP4 including
	// loopback, with mDNS off. Used for in-process calls and tests.
	LoopbackOnly bool

	Metrics *metrics.Recorder
}

const (
	defaultDisconnectedTimeout = 10 * time.Second
	defaultFailedTimeout       = 30 * time.Second
	defaultKeepAlive           = 2 * time.Second
)

// LocalMedia is what a Link needs from an acquired media handle.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	CallType() media.CallType
}

// Events are the upward signals of a Link. Each callback may be nil. They run
// on pion goroutines and never after Close.
type Events struct {
	OnCandidate   func(webrtc.ICECandidateInit)
	OnRemoteTrack func(RemoteTrack)
	OnEstablished func()
	OnLost        func(error)
}

// Manager builds Links from one configured pion API.
type Manager struct {
	api    *webrtc.API
	config webrtc.Configuration
	cfg    Config
	log    *zap.Logger
}

// NewManager registers the default codecs and interceptors and applies the
// ICE settings from cfg.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.L()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	disconnected := orDefault(cfg.DisconnectedTimeout, defaultDisconnectedTimeout)
	failed := orDefault(cfg.FailedTimeout, defaultFailedTimeout)
	keepAlive := orDefault(cfg.KeepAliveInterval, defaultKeepAlive)

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(disconnected, failed, keepAlive)
	if cfg.LoopbackOnly {
		se.SetIncludeLoopbackCandidate(true)
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 && !cfg.LoopbackOnly {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	return &Manager{
		api:    api,
		config: webrtc.Configuration{ICEServers: iceServers},
		cfg:    cfg,
		log:    logger.With(zap.String("module", "peer")),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// CreateLink opens a peer connection carrying the local tracks and wires the
// callbacks in ev.
func (m *Manager) CreateLink(local LocalMedia, ev Events) (*Link, error) {
	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := newLink(pc, ev, m.cfg.Metrics, m.log)

	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range local.Tracks() {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		have[t.Kind()] = true
	}

	want := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if local.CallType() == media.CallVideo {
		want = append(want, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range want {
		if have[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
	}

	l.wire()
	return l, nil
}
