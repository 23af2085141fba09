// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/google/uuid"
)

// Event kinds the generator emits.
const (
	KindShortVideo  = 22
	KindProfile     = 0
	KindVideoSeries = 34236
)

// GeneratorConfig drives synthetic traffic.
type GeneratorConfig struct {
	Interval time.Duration
	Authors  []string
	Hashtags []string
	// FailureRate is the share of items whose media fails to open (0..1).
	FailureRate float64
	// Seed makes output reproducible; 0 picks a random seed.
	Seed uint64
}

// Generator publishes synthetic content into a Memory relay.
type Generator struct {
	cfg   GeneratorConfig
	relay *Memory
	rng   *rand.Rand
	now   func() time.Time
}

// NewGenerator creates a generator writing to relay.
func NewGenerator(relay *Memory, cfg GeneratorConfig) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if len(cfg.Authors) == 0 {
		cfg.Authors = []string{"alice", "bob", "carol"}
	}
	if len(cfg.Hashtags) == 0 {
		cfg.Hashtags = []string{"nature", "music", "cats"}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{
		cfg:   cfg,
		relay: relay,
		rng:   rand.New(rand.NewPCG(seed, seed>>1)),
		now:   time.Now,
	}
}

// Next builds one synthetic item.
func (g *Generator) Next() model.ContentItem {
	author := g.cfg.Authors[g.rng.IntN(len(g.cfg.Authors))]
	tag := g.cfg.Hashtags[g.rng.IntN(len(g.cfg.Hashtags))]
	id := uuid.NewString()
	it := model.ContentItem{
		ID:        id,
		Author:    author,
		CreatedAt: g.now().Unix(),
		Kind:      KindShortVideo,
		Tags:      map[string][]string{model.HashtagTag: {tag}},
		MediaRef:  fmt.Sprintf("media/%s.mp4", id),
	}
	switch r := g.rng.Float64(); {
	case r < 0.05:
		it.Kind = KindProfile
		it.MediaRef = ""
	case r < 0.15:
		it.Kind = KindVideoSeries
		it.Tags[model.DiscriminatorTag] = []string{fmt.Sprintf("series-%d", g.rng.IntN(3))}
	}
	if it.MediaRef != "" && g.rng.Float64() < g.cfg.FailureRate {
		if g.rng.IntN(2) == 0 {
			it.MediaRef = fmt.Sprintf("media/%s.flaky", id)
		} else {
			it.MediaRef = fmt.Sprintf("media/%s.bad", id)
		}
	}
	return it
}

// Run publishes an item every interval until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	logger := log.WithComponent("generator")
	logger.Info().Dur("interval", g.cfg.Interval).Msg("synthetic publisher started")
	t := time.NewTicker(g.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			g.relay.Publish(g.Next())
		}
	}
}
