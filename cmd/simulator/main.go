package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"tourguard/internal/config"
	"tourguard/internal/geo"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

type walker struct {
	id  string
	pos geo.Point
	seq uint64
}

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	seedFile := flag.String("seed", "configs/seed.yaml", "seed file used to place tourists near zones")
	count := flag.Int("tourists", 10, "number of simulated tourists")
	interval := flag.Duration("interval", 2*time.Second, "time between position rounds")
	steps := flag.Int("steps", 0, "rounds to run, 0 runs until interrupted")
	panicProb := flag.Float64("panic", 0.002, "probability of a panic press per sample")
	stepMeters := flag.Float64("step", 40, "maximum walk per round in meters")
	flag.Parse()

	log.Printf("[Simulator] Connecting to %s", *natsURL)
	nc, err := nats.Connect(*natsURL, nats.Name("tourguard-simulator"))
	if err != nil {
		log.Fatalf("[Simulator] Failed to connect to NATS: %v", err)
	}
	defer nc.Drain()

	seed, err := config.LoadSeed(*seedFile)
	if err != nil {
		log.Fatalf("[Simulator] Failed to load seed: %v", err)
	}
	anchors := anchorsFrom(seed.Zones)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	walkers := make([]*walker, *count)
	for i := range walkers {
		a := anchors[i%len(anchors)]
		walkers[i] = &walker{
			id:  fmt.Sprintf("sim-%03d", i+1),
			pos: offset(a, rng.Float64()*2500, rng.Float64()*360),
		}
	}
	log.Printf("[Simulator] Walking %d tourists around %d anchors", len(walkers), len(anchors))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var sent, panics int
	for round := 0; *steps == 0 || round < *steps; round++ {
		for _, w := range walkers {
			w.pos = offset(w.pos, rng.Float64()**stepMeters, rng.Float64()*360)
			w.seq++
			sample := model.PositionSample{
				TouristID: w.id,
				Lat:       w.pos.Lat,
				Lon:       w.pos.Lon,
				Accuracy:  5 + rng.Float64()*20,
				Timestamp: time.Now().UnixMilli(),
				Sequence:  w.seq,
			}
			if err := publish(nc, service.SubjectUplinkPosition, sample); err != nil {
				log.Printf("[Simulator] Failed to publish position for %s: %v", w.id, err)
				continue
			}
			sent++

			if rng.Float64() < *panicProb {
				loc := w.pos
				msg := service.PanicMessage{TouristID: w.id, Location: &loc, Message: "simulated panic"}
				if err := publish(nc, service.SubjectUplinkPanic, msg); err != nil {
					log.Printf("[Simulator] Failed to publish panic for %s: %v", w.id, err)
					continue
				}
				panics++
				log.Printf("[Simulator] %s pressed panic at %.5f,%.5f", w.id, loc.Lat, loc.Lon)
			}
		}
		if (round+1)%10 == 0 {
			log.Printf("[Simulator] Round %d: %d positions, %d panics", round+1, sent, panics)
		}

		select {
		case <-sigChan:
			log.Println("[Simulator] Interrupted")
			return
		case <-ticker.C:
		}
	}
	log.Printf("[Simulator] Done: %d positions, %d panics", sent, panics)
}

func publish(nc *nats.Conn, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return nc.Publish(subject, data)
}

// anchorsFrom returns one point per seeded zone, falling back to Guwahati.
func anchorsFrom(zones []model.Zone) []geo.Point {
	var out []geo.Point
	for _, z := range zones {
		switch {
		case z.Geometry.Center != nil:
			out = append(out, *z.Geometry.Center)
		case len(z.Geometry.Points) > 0:
			out = append(out, z.Geometry.Points[0])
		}
	}
	if len(out) == 0 {
		out = append(out, geo.Point{Lat: 26.1445, Lon: 91.7362})
	}
	return out
}

// offset moves p by meters along bearing degrees on a spherical earth.
func offset(p geo.Point, meters, bearing float64) geo.Point {
	const earthRadius = 6371000.0
	d := meters / earthRadius
	b := bearing * math.Pi / 180
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(b))
	lon2 := lon1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return geo.Point{Lat: lat2 * 180 / math.Pi, Lon: math.Mod(lon2*180/math.Pi+540, 360) - 180}
}
