package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/gin-gonic/gin"
)

const (
	ScanEventName      = "scan"
	scanEventReady     = "ready"
	scanEventHeartbeat = "heartbeat"
)

// ScanFeed fans scan events out to the live subscribers of each cargo.
// Publishing never blocks; a subscriber whose buffer is full misses the event.
type ScanFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]*scanSubscriber
	nextID      int64
	bufferSize  int
}

type scanSubscriber struct {
	id     int64
	stream chan labels.ScanEvent
}

func NewScanFeed() *ScanFeed {
	return &ScanFeed{
		subscribers: make(map[int64]map[int64]*scanSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for cargoID until ctx ends or cleanup runs.
func (f *ScanFeed) Subscribe(ctx context.Context, cargoID int64) (<-chan labels.ScanEvent, func()) {
	if cargoID <= 0 {
		ch := make(chan labels.ScanEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &scanSubscriber{
		id:     f.nextSequence(),
		stream: make(chan labels.ScanEvent, f.bufferSize),
	}
	f.registerSubscriber(cargoID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			f.unregisterSubscriber(cargoID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishScan implements labels.ScanObserver.
func (f *ScanFeed) PublishScan(event labels.ScanEvent) {
	if event.CargoID <= 0 {
		return
	}
	f.mu.RLock()
	subscribers := f.subscribers[event.CargoID]
	if len(subscribers) == 0 {
		f.mu.RUnlock()
		return
	}
	copies := make([]*scanSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Subscribers reports the number of live listeners for cargoID.
func (f *ScanFeed) Subscribers(cargoID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[cargoID])
}

func (f *ScanFeed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *ScanFeed) registerSubscriber(cargoID int64, subscriber *scanSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[cargoID]; !ok {
		f.subscribers[cargoID] = make(map[int64]*scanSubscriber)
	}
	f.subscribers[cargoID][subscriber.id] = subscriber
}

func (f *ScanFeed) unregisterSubscriber(cargoID int64, subscriberID int64) {
	f.mu.Lock()
	subscribers := f.subscribers[cargoID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(f.subscribers, cargoID)
		}
	}
	f.mu.Unlock()
}

func (h *httpHandler) handleScanEvents(c *gin.Context) {
	cargoID, ok := parseIDParam(c, "cargaId")
	if !ok {
		return
	}
	if _, ok := h.ownedCargo(c, cargoID); !ok {
		return
	}
	ctx := c.Request.Context()

	stream, cleanup := h.scanFeed.Subscribe(ctx, cargoID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(scanEventReady, gin.H{"carga_id": cargoID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(ScanEventName, event)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(scanEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}
