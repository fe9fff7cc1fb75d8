// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ReadFunc reads one sample vector from a sensor.
type ReadFunc func(s Sensor) (values []float32, accuracy int, err error)

// poller turns a blocking ReadFunc into asynchronous listener callbacks:
// one goroutine per (listener, sensor) registration.
type poller struct {
	start time.Time
	read  ReadFunc

	mu   sync.Mutex
	subs map[Listener]*subscription
}

type subscription struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sensors map[string]struct{}
}

func newPoller(read ReadFunc) *poller {
	return &poller{
		start: time.Now(),
		read:  read,
		subs:  make(map[Listener]*subscription),
	}
}

// now returns nanoseconds on the source clock. time.Since uses the
// monotonic reading, so wall-clock jumps do not show up here.
func (p *poller) now() int64 {
	return time.Since(p.start).Nanoseconds()
}

func (p *poller) register(l Listener, s Sensor, rate Rate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[l]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &subscription{ctx: ctx, cancel: cancel, sensors: make(map[string]struct{})}
		p.subs[l] = sub
	}
	if _, dup := sub.sensors[s.Name]; dup {
		return
	}
	sub.sensors[s.Name] = struct{}{}

	sub.wg.Add(1)
	go p.run(sub, l, s, rate.Interval())
}

func (p *poller) unregister(l Listener) {
	p.mu.Lock()
	sub, ok := p.subs[l]
	delete(p.subs, l)
	p.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	sub.wg.Wait()
}

func (p *poller) run(sub *subscription, l Listener, s Sensor, interval time.Duration) {
	defer sub.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastAccuracy := -1
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}
		if sub.ctx.Err() != nil {
			return
		}

		values, accuracy, err := p.read(s)
		if err != nil {
			if !errors.Is(err, ErrNoData) {
				log.Printf("sensors: %s read error: %v", s.Name, err)
			}
			continue
		}

		if accuracy != lastAccuracy {
			if lastAccuracy >= 0 {
				l.OnAccuracyChange(s.Name, accuracy)
			}
			lastAccuracy = accuracy
		}
		l.OnSample(s.Kind, s.Name, values, p.now(), accuracy)
	}
}
