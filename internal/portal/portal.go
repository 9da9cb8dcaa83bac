// Package portal wires the store, hub, write service and HTTP endpoints
// into a running server
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/api"
	"github.com/swasthsaathi/portal/internal/crossbar"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/metrics"
	"github.com/swasthsaathi/portal/internal/records"
	"github.com/swasthsaathi/portal/internal/seed"
	"github.com/swasthsaathi/portal/internal/store"
)

// Audience is written into, and required of, login tokens
const Audience = "swasthsaathi-portal"

// Config represents configuration options for a portal instance
// Use this struct to pass configuration as argument during testing
type Config struct {

	// Port is the listening port
	Port int

	// SeedFile holds users and patients; the embedded demo seed is used if empty
	SeedFile string

	// Secret signs login tokens; a random secret is used if empty
	Secret string

	// TokenTTL is the lifetime of login tokens
	TokenTTL time.Duration

	// RequireToken makes the realtime endpoints reject clients without a token
	RequireToken bool

	// QueueSize is the number of events buffered per connection
	QueueSize int

	// StatsEvery sets how often hub statistics are logged, zero for never
	StatsEvery time.Duration
}

// Run serves the portal until closed is closed. It returns an error if the
// portal could not start, or stopped for any reason other than closed.
func Run(closed <-chan struct{}, parentwg *sync.WaitGroup, config Config) error {

	defer parentwg.Done()

	s, err := seed.Load(config.SeedFile)

	if err != nil {
		log.WithFields(log.Fields{"error": err.Error(), "file": config.SeedFile}).Error("could not load seed")
		return fmt.Errorf("loading seed: %w", err)
	}

	if config.Secret == "" {
		config.Secret = uuid.New().String()
		log.Warn("no secret set, login tokens will not survive a restart")
	}

	m := metrics.New()

	h := hub.New(hub.Config{
		QueueSize: config.QueueSize,
		Observer:  m,
	})

	var wg sync.WaitGroup

	// stop is closed on shutdown, or if the server cannot start
	stop := make(chan struct{})
	var once sync.Once
	halt := func() { once.Do(func() { close(stop) }) }

	go func() {
		select {
		case <-closed:
			halt()
		case <-stop:
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(stop)
	}()

	patients := store.NewMemory(s.Patients())
	directory := login.NewDirectory(s.Accounts())

	log.WithFields(log.Fields{"patients": patients.Count(), "users": directory.Count()}).Info("loaded seed")

	handler := api.New(api.Config{
		Service:   records.New(patients, h),
		Directory: directory,
		Hub:       h,
		Crossbar: crossbar.New(stop, crossbar.Config{
			Hub:          h,
			RequireToken: config.RequireToken,
			Secret:       config.Secret,
			Audience:     Audience,
		}),
		Metrics:  m,
		Secret:   config.Secret,
		Audience: Audience,
		TokenTTL: config.TokenTTL,
	})

	if config.StatsEvery > 0 {
		wg.Add(1)
		go logStats(stop, &wg, h, config.StatsEvery)
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("Server shutdown error %s", err.Error())
		}
	}()

	log.WithField("port", config.Port).Info("portal listening")

	var serveErr error

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithField("error", err.Error()).Error("portal server failed")
		serveErr = fmt.Errorf("serving on port %d: %w", config.Port, err)
	}

	halt()

	wg.Wait()
	log.Trace("Portal done")

	return serveErr
}

func logStats(closed <-chan struct{}, wg *sync.WaitGroup, h *hub.Hub, every time.Duration) {

	defer wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			r, err := h.Stats()
			if err != nil {
				return
			}
			log.WithFields(log.Fields{
				"connections": r.Connections,
				"rooms":       len(r.Rooms),
				"publishes":   r.Publishes,
				"deliveries":  r.Deliveries,
				"drops":       r.Drops,
				"rate":        r.Rate,
			}).Info("hub stats")
		}
	}
}
