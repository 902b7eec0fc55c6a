package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/config"
	"github.com/satindergrewal/deckmix/internal/deck"
	"github.com/satindergrewal/deckmix/internal/library"
	"github.com/satindergrewal/deckmix/internal/mixer"
	"github.com/satindergrewal/deckmix/internal/output"
	"github.com/satindergrewal/deckmix/internal/stream"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("deckmix starting up...")

	// Track library, optionally read through the local metadata cache
	lib := library.NewClient(cfg.LibraryURL, cfg.LibraryToken, cfg.FetchTimeout)
	if cfg.CachePath != "" {
		cache, err := library.OpenCache(cfg.CachePath)
		if err != nil {
			log.Printf("Track cache disabled: %v", err)
		} else {
			defer cache.Close()
			lib.WithCache(cache)
			log.Printf("Track cache: %s", cfg.CachePath)
		}
	}

	// One audio context shared by every deck
	actx := audio.NewContext(audio.SampleRate)
	defer actx.Close()

	events := newEventHub()
	mix, err := mixer.New(actx, audio.NewDecoder(audio.SampleRate, cfg.FFmpegFallback), lib, mixer.Options{
		Decks:     cfg.Decks,
		Deck:      deck.Options{FrameRate: cfg.FrameRate, MeterRate: cfg.MeterRate},
		Callbacks: events.callbacks,
	})
	if err != nil {
		log.Fatalf("Mixer: %v", err)
	}
	defer mix.Close()

	srv := &server{mixer: mix, lib: lib, events: events}

	switch cfg.Output {
	case config.OutputStream:
		pipeline := audio.NewPipeline(actx)
		go pipeline.Run(ctx)

		srv.broadcaster = stream.NewBroadcaster(stream.DefaultBuffer)
		go srv.broadcaster.Run(ctx, pipeline.Frames())
		srv.webrtc = stream.NewWebRTCHandler(srv.broadcaster, "deckmix-master", stream.DefaultOpusBitrate)
		defer srv.webrtc.Close()
		log.Println("Output: master mix on /stream and /offer")
	case config.OutputDevice:
		dev, err := output.OpenDevice(actx, audio.SampleRate)
		if err != nil {
			log.Fatalf("Output: %v", err)
		}
		defer dev.Close()
		dev.Start()
		go func() {
			if err := watchDevice(ctx, dev, time.Second); err != nil {
				log.Printf("Output: sound card failed: %v", err)
				cancel()
			}
		}()
	default:
		log.Println("Output: none, the graph renders only on demand")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv.routes()}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("deckmix live on %s (%d decks, library %s)", addr, cfg.Decks, cfg.LibraryURL)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// watchDevice polls the player for an asynchronous error until ctx ends.
func watchDevice(ctx context.Context, dev interface{ Err() error }, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := dev.Err(); err != nil {
				return err
			}
		}
	}
}
