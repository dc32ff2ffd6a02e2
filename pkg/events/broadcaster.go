package events

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Channel represents a broadcast channel
type Channel struct {
	Name      string        `json:"name"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Filters   *EventFilter  `json:"filters,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Subscription represents a client subscription
type Subscription struct {
	ID        string       `json:"id"`
	Channel   string       `json:"channel"`
	Filters   *EventFilter `json:"filters,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	LastSeen  time.Time    `json:"last_seen"`
}

// Subscriber represents a client that receives events, e.g. one open
// websocket connection from the rig operator's UI.
type Subscriber interface {
	ID() string
	Send(event *Event) error
	Close() error
	Context() context.Context
}

// BroadcasterConfig represents broadcaster configuration
type BroadcasterConfig struct {
	BufferSize        int           `json:"buffer_size"`
	MaxSubscribers    int           `json:"max_subscribers"`
	DefaultChannelTTL time.Duration `json:"default_channel_ttl"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
	SubscriberTimeout time.Duration `json:"subscriber_timeout"`
}

// DefaultBroadcasterConfig returns a default broadcaster configuration
func DefaultBroadcasterConfig() *BroadcasterConfig {
	return &BroadcasterConfig{
		BufferSize:        1000,
		MaxSubscribers:    500,
		DefaultChannelTTL: 24 * time.Hour,
		CleanupInterval:   5 * time.Minute,
		SubscriberTimeout: 30 * time.Second,
	}
}

// Broadcaster manages real-time event broadcasting: the generic
// channel/subscribe machinery that Publisher (see publisher.go) broadcasts
// fat.EventPublisher events through on the "fat.lifecycle" channel, and that
// an HTTP websocket handler uses to register UI subscribers.
type Broadcaster struct {
	config      *BroadcasterConfig
	channels    map[string]*Channel
	subscribers map[string]Subscriber
	channelSubs map[string]map[string]*Subscription
	eventChan   chan *Event
	unsubChan   chan string
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	metrics     *BroadcasterMetrics
}

// BroadcasterMetrics represents broadcaster metrics
type BroadcasterMetrics struct {
	TotalChannels    int64 `json:"total_channels"`
	TotalSubscribers int64 `json:"total_subscribers"`
	EventsSent       int64 `json:"events_sent"`
	EventsDropped    int64 `json:"events_dropped"`
	mu               sync.RWMutex
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(config *BroadcasterConfig) *Broadcaster {
	if config == nil {
		config = DefaultBroadcasterConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Broadcaster{
		config:      config,
		channels:    make(map[string]*Channel),
		subscribers: make(map[string]Subscriber),
		channelSubs: make(map[string]map[string]*Subscription),
		eventChan:   make(chan *Event, config.BufferSize),
		unsubChan:   make(chan string, 100),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &BroadcasterMetrics{},
	}
}

// Start starts the broadcaster's background loops.
func (b *Broadcaster) Start() error {
	b.wg.Add(2)
	go b.eventLoop()
	go b.cleanupLoop()
	return nil
}

// Stop stops the broadcaster and waits for its loops to exit.
func (b *Broadcaster) Stop() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// CreateChannel creates a new broadcast channel
func (b *Broadcaster) CreateChannel(name string) (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.channels[name]; exists {
		return nil, fmt.Errorf("channel already exists: %s", name)
	}

	channel := &Channel{
		Name:      name,
		TTL:       b.config.DefaultChannelTTL,
		CreatedAt: time.Now(),
	}

	b.channels[name] = channel
	b.channelSubs[name] = make(map[string]*Subscription)

	b.updateMetrics()
	return channel, nil
}

// EnsureChannel returns the named channel, creating it if necessary.
func (b *Broadcaster) EnsureChannel(name string) *Channel {
	b.mu.RLock()
	channel, exists := b.channels[name]
	b.mu.RUnlock()
	if exists {
		return channel
	}
	channel, err := b.CreateChannel(name)
	if err != nil {
		// Lost the race to another goroutine's CreateChannel; look it up.
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.channels[name]
	}
	return channel
}

// Subscribe subscribes a subscriber to a channel
func (b *Broadcaster) Subscribe(subscriber Subscriber, channelName string, filters *EventFilter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.config.MaxSubscribers {
		return nil, fmt.Errorf("maximum number of subscribers reached")
	}

	if _, exists := b.channels[channelName]; !exists {
		return nil, fmt.Errorf("channel not found: %s", channelName)
	}

	subscription := &Subscription{
		ID:        subscriber.ID(),
		Channel:   channelName,
		Filters:   filters,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}

	b.subscribers[subscriber.ID()] = subscriber
	b.channelSubs[channelName][subscriber.ID()] = subscription

	b.updateMetrics()
	return subscription, nil
}

// Unsubscribe unsubscribes a subscriber from all channels
func (b *Broadcaster) Unsubscribe(subscriberID string) error {
	select {
	case b.unsubChan <- subscriberID:
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("broadcaster closed")
	}
}

// Broadcast broadcasts an event to a specific channel
func (b *Broadcaster) Broadcast(channelName string, event *Event) error {
	b.mu.RLock()
	channel, exists := b.channels[channelName]
	b.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel not found: %s", channelName)
	}

	if channel.Filters != nil && !channel.Filters.Matches(event) {
		return nil
	}

	eventCopy := event.Clone()
	eventCopy.AddMetadata("channel", channelName)

	select {
	case b.eventChan <- eventCopy:
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("broadcaster closed")
	default:
		b.metrics.mu.Lock()
		b.metrics.EventsDropped++
		b.metrics.mu.Unlock()
		return fmt.Errorf("event buffer full")
	}
}

// GetMetrics returns a snapshot of broadcaster metrics
func (b *Broadcaster) GetMetrics() BroadcasterMetrics {
	b.metrics.mu.RLock()
	defer b.metrics.mu.RUnlock()
	return BroadcasterMetrics{
		TotalChannels:    b.metrics.TotalChannels,
		TotalSubscribers: b.metrics.TotalSubscribers,
		EventsSent:       b.metrics.EventsSent,
		EventsDropped:    b.metrics.EventsDropped,
	}
}

func (b *Broadcaster) eventLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.processEvent(event)
		case subscriberID := <-b.unsubChan:
			b.unsubscribeInternal(subscriberID)
		}
	}
}

func (b *Broadcaster) cleanupLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.cleanup()
		}
	}
}

func (b *Broadcaster) processEvent(event *Event) {
	channelName, _ := event.GetMetadata("channel")
	channel, ok := channelName.(string)
	if !ok {
		return
	}

	b.mu.RLock()
	channelSubs, exists := b.channelSubs[channel]
	if !exists {
		b.mu.RUnlock()
		return
	}

	subscribers := make([]Subscriber, 0, len(channelSubs))
	subscriptions := make([]*Subscription, 0, len(channelSubs))

	for _, subscription := range channelSubs {
		if subscriber, exists := b.subscribers[subscription.ID]; exists {
			if subscription.Filters != nil && !subscription.Filters.Matches(event) {
				continue
			}
			subscribers = append(subscribers, subscriber)
			subscriptions = append(subscriptions, subscription)
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for i, subscriber := range subscribers {
		wg.Add(1)
		go func(sub Subscriber, subscription *Subscription) {
			defer wg.Done()
			if err := sub.Send(event); err != nil {
				b.Unsubscribe(subscription.ID)
				return
			}
			b.mu.Lock()
			subscription.LastSeen = time.Now()
			b.mu.Unlock()
		}(subscriber, subscriptions[i])
	}
	wg.Wait()

	b.metrics.mu.Lock()
	b.metrics.EventsSent++
	b.metrics.mu.Unlock()
}

func (b *Broadcaster) unsubscribeInternal(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscriber, exists := b.subscribers[subscriberID]; exists {
		subscriber.Close()
		delete(b.subscribers, subscriberID)
	}

	for _, channelSubs := range b.channelSubs {
		delete(channelSubs, subscriberID)
	}

	b.updateMetrics()
}

func (b *Broadcaster) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for subscriberID, subscriber := range b.subscribers {
		select {
		case <-subscriber.Context().Done():
			go b.Unsubscribe(subscriberID)
		default:
			for _, channelSubs := range b.channelSubs {
				if sub, exists := channelSubs[subscriberID]; exists {
					if now.Sub(sub.LastSeen) > b.config.SubscriberTimeout {
						go b.Unsubscribe(subscriberID)
					}
				}
			}
		}
	}
}

func (b *Broadcaster) updateMetrics() {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	b.metrics.TotalChannels = int64(len(b.channels))
	b.metrics.TotalSubscribers = int64(len(b.subscribers))
}
