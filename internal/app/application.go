package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	authmem "github.com/snapshare/client/internal/auth/memory"
	"github.com/snapshare/client/internal/config"
	"github.com/snapshare/client/internal/feed"
	"github.com/snapshare/client/internal/fixtures"
	"github.com/snapshare/client/internal/media"
	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/post"
	"github.com/snapshare/client/internal/profile"
	"github.com/snapshare/client/internal/router"
	"github.com/snapshare/client/internal/session"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/internal/store/memory"
	"github.com/snapshare/client/internal/store/supabase"
	"github.com/snapshare/client/pkg/logger"
	"github.com/snapshare/client/supabase/client"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// implementation for the configured mode.
type Stores struct {
	Profiles store.ProfileStore
	Posts    store.PostStore
	Settings store.SettingsStore
	Blobs    store.BlobStore
}

// Options overrides collaborators chosen by New.
type Options struct {
	Stores Stores
	// Auth replaces the mode's auth provider.
	Auth session.AuthProvider
	// HTTPClient is used for backend calls. Its transport is instrumented
	// when metrics are enabled.
	HTTPClient *http.Client
	Picker     media.Picker
	ReadImage  media.Reader
}

// Application ties the session, feed, post and profile flows together.
type Application struct {
	log  *logger.Logger
	mode config.Mode

	// Backend is nil in mock mode.
	Backend *client.Client
	// MockAuth is nil in backend mode unless supplied through Options.
	MockAuth *authmem.Auth

	Session  *session.Store
	Feed     *feed.Accessor
	Posts    *post.Service
	Profile  *profile.Editor
	Picker   media.Picker
	Uploader *media.Uploader

	mu     sync.Mutex
	router *router.Router
}

// New builds a fully initialised application for cfg.
func New(cfg config.Config, log *logger.Logger, opts Options) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Application{log: log, mode: cfg.Mode, Picker: opts.Picker}
	stores := opts.Stores
	auth := opts.Auth

	switch cfg.Mode {
	case config.ModeBackend:
		backend, err := newBackend(cfg, log, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		a.Backend = backend
		repo := supabase.NewRepository(backend)
		if stores.Profiles == nil {
			stores.Profiles = repo
		}
		if stores.Posts == nil {
			stores.Posts = repo
		}
		if stores.Settings == nil {
			stores.Settings = repo
		}
		if stores.Blobs == nil {
			stores.Blobs = supabase.NewBlobs(backend)
		}
		if auth == nil {
			auth = backend.Auth()
		}
	default:
		mem, err := seededStore()
		if err != nil {
			return nil, err
		}
		if stores.Profiles == nil {
			stores.Profiles = mem
		}
		if stores.Posts == nil {
			stores.Posts = mem
		}
		if stores.Settings == nil {
			stores.Settings = mem
		}
		if stores.Blobs == nil {
			stores.Blobs = memory.NewBlobs("")
		}
		if auth == nil {
			a.MockAuth = authmem.New(log.Named("auth"))
			auth = a.MockAuth
		}
		if a.Picker == nil {
			a.Picker = media.PlaceholderPicker{}
		}
	}

	a.Session = session.New(auth, stores.Profiles, stores.Settings, log.Named("session"))
	a.Feed = feed.New(stores.Posts, log.Named("feed"))
	a.Uploader = media.NewUploader(stores.Blobs, opts.ReadImage, log.Named("media"))
	a.Posts = post.NewService(stores.Posts, a.Uploader, a.Session, log.Named("post"))
	a.Profile = profile.NewEditor(a.Session, a.Uploader, stores.Posts, log.Named("profile"))

	log.WithField("mode", cfg.Mode).Info("application initialised")
	return a, nil
}

// Load reads configuration from cfgOpts and builds the application with a
// logger configured from it.
func Load(cfgOpts config.Options, opts Options) (*Application, error) {
	cfg, err := config.Load(cfgOpts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg, logger.New("app", cfg.Logger()), opts)
}

func newBackend(cfg config.Config, log *logger.Logger, httpClient *http.Client) (*client.Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Metrics.Enabled {
		instrumented := *httpClient
		transport := instrumented.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		instrumented.Transport = metrics.InstrumentTransport(transport)
		httpClient = &instrumented
	}

	var sessions client.SessionStorage = client.NewMemoryStorage()
	if cfg.SessionFile != "" {
		sessions = client.NewFileStorage(cfg.SessionFile)
	}

	backend, err := client.New(client.Config{
		URL:            cfg.Supabase.URL,
		APIKey:         cfg.Supabase.AnonKey,
		HTTPClient:     httpClient,
		SessionStorage: sessions,
		Logger:         log.Named("supabase"),
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	return backend, nil
}

func seededStore() (*memory.Store, error) {
	posts, err := fixtures.Posts()
	if err != nil {
		return nil, fmt.Errorf("load fixtures: %w", err)
	}
	mem := memory.NewStore()
	mem.Seed(posts)
	return mem, nil
}

// Mode returns the configured data source.
func (a *Application) Mode() config.Mode {
	return a.mode
}

// Start attaches the router to nav and resolves the stored session. ctx
// bounds work triggered by later auth events. A failed restore leaves the
// session signed out and is returned for logging; the app stays usable.
func (a *Application) Start(ctx context.Context, nav router.Navigator) error {
	a.mu.Lock()
	if a.router == nil {
		a.router = router.New(a.Session, nav)
	}
	a.mu.Unlock()
	return a.Session.Start(ctx)
}

// Router returns the router attached by Start, or nil.
func (a *Application) Router() *router.Router {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.router
}

// Metrics serves the client's collectors in the Prometheus text format.
func (a *Application) Metrics() http.Handler {
	return metrics.Handler()
}

// Close detaches the router and stops following auth events.
func (a *Application) Close() {
	a.mu.Lock()
	r := a.router
	a.router = nil
	a.mu.Unlock()
	if r != nil {
		r.Close()
	}
	a.Session.Stop()
}
