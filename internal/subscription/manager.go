// Package subscription keeps a registry of filter-keyed WebSocket
// subscriptions and fans decoded repository events out to whichever
// subscriptions match their (repository, collection) filter.
package subscription

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oyin-bo/atrepo/internal/metrics"
	"github.com/oyin-bo/atrepo/internal/models"
)

// Manager handles filter subscriptions and WebSocket connections.
type Manager struct {
	mu               sync.RWMutex
	subscriptions    map[string]*Subscription
	maxConnections   int
	totalConnections int

	cleanupTicker  *time.Ticker
	cleanupStop    chan bool
	cleanupRunning bool
}

// Subscription represents a filter with its associated WebSocket connections.
type Subscription struct {
	FilterKey        string
	Options          models.FilterOptions
	CreatedAt        time.Time
	LastConnectionAt *time.Time
	Connections      map[*websocket.Conn]bool
	mu               sync.RWMutex
}

// NewManager creates a new subscription manager with the default
// connection limit.
func NewManager() *Manager {
	return NewManagerWithConfig(1000)
}

// NewManagerWithConfig creates a new subscription manager with an
// explicit maximum connection count.
func NewManagerWithConfig(maxConnections int) *Manager {
	m := &Manager{
		subscriptions:  make(map[string]*Subscription),
		maxConnections: maxConnections,
		cleanupStop:    make(chan bool, 1),
	}
	m.startPeriodicCleanup()
	return m
}

// CreateFilter creates a new filter subscription and returns a unique
// key. At least one of Repository/Collection must be set, matching
// FilterOptions' documented precondition, to avoid silently forwarding
// the entire firehose to a subscription with no criteria.
func (m *Manager) CreateFilter(options models.FilterOptions) string {
	if validationErr := validateFilterContent(options); validationErr != "" {
		log.Printf("rejected filter creation: %s", validationErr)
		return ""
	}

	filterKey := generateFilterKey()
	metrics.FiltersCreated.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions[filterKey] = &Subscription{
		FilterKey:   filterKey,
		Options:     options,
		CreatedAt:   time.Now(),
		Connections: make(map[*websocket.Conn]bool),
	}

	log.Printf("created filter %s: repository=%s collection=%s",
		filterKey[:8]+"...", displayValue(options.Repository), displayValue(options.Collection))

	return filterKey
}

// GetSubscription returns a specific subscription by filter key.
func (m *Manager) GetSubscription(filterKey string) (*models.FilterSubscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[filterKey]
	if !exists {
		return nil, false
	}

	sub.mu.RLock()
	defer sub.mu.RUnlock()

	return &models.FilterSubscription{
		FilterKey:   sub.FilterKey,
		Options:     sub.Options,
		CreatedAt:   sub.CreatedAt,
		Connections: len(sub.Connections),
	}, true
}

// GetSubscriptions returns all current filter subscriptions.
func (m *Manager) GetSubscriptions() []models.FilterSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []models.FilterSubscription
	for _, sub := range m.subscriptions {
		sub.mu.RLock()
		subs = append(subs, models.FilterSubscription{
			FilterKey:   sub.FilterKey,
			Options:     sub.Options,
			CreatedAt:   sub.CreatedAt,
			Connections: len(sub.Connections),
		})
		sub.mu.RUnlock()
	}
	return subs
}

// ConnectionResult represents the result of trying to add a connection.
type ConnectionResult struct {
	Success      bool
	ErrorMessage string
	ErrorCode    string
}

// AddConnection adds a WebSocket connection to a filter subscription.
func (m *Manager) AddConnection(filterKey string, conn *websocket.Conn) bool {
	return m.AddConnectionWithResult(filterKey, conn).Success
}

// AddConnectionWithResult adds a WebSocket connection and returns a
// detailed result.
func (m *Manager) AddConnectionWithResult(filterKey string, conn *websocket.Conn) ConnectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalConnections >= m.maxConnections {
		return ConnectionResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("maximum connections limit reached (%d/%d)", m.totalConnections, m.maxConnections),
			ErrorCode:    "MAX_CONNECTIONS_REACHED",
		}
	}

	sub, exists := m.subscriptions[filterKey]
	if !exists {
		return ConnectionResult{
			Success:      false,
			ErrorMessage: "invalid filter key",
			ErrorCode:    "INVALID_FILTER_KEY",
		}
	}

	sub.mu.Lock()
	sub.Connections[conn] = true
	now := time.Now()
	sub.LastConnectionAt = &now
	sub.mu.Unlock()

	m.totalConnections++
	metrics.WebsocketConnections.Set(float64(m.totalConnections))

	return ConnectionResult{Success: true}
}

// RemoveConnection removes a WebSocket connection from a filter
// subscription, cleaning up the subscription entirely if it has no
// connections left.
func (m *Manager) RemoveConnection(filterKey string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[filterKey]
	if !exists {
		return
	}

	sub.mu.Lock()
	_, wasConnected := sub.Connections[conn]
	if wasConnected {
		delete(sub.Connections, conn)
		m.totalConnections--
		metrics.WebsocketConnections.Set(float64(m.totalConnections))
	}
	connectionCount := len(sub.Connections)
	sub.mu.Unlock()

	if wasConnected && connectionCount == 0 {
		delete(m.subscriptions, filterKey)
		metrics.FiltersDeleted.Inc()
	}
}

// BroadcastEvent sends a decoded commit event to every subscription
// whose filter matches it.
func (m *Manager) BroadcastEvent(event *models.ATEvent) {
	receivedAt := time.Now()

	type target struct {
		sub      *Subscription
		matching []models.ATRecord
	}
	var targets []target
	m.mu.RLock()
	for _, sub := range m.subscriptions {
		if matching := matchingRecords(event, sub.Options); len(matching) > 0 {
			targets = append(targets, target{sub: sub, matching: matching})
		}
	}
	m.mu.RUnlock()

	// broadcastToSubscription takes m.mu itself when it prunes dead
	// connections, so it runs after the read lock is released.
	for _, t := range targets {
		m.broadcastToSubscription(t.sub, event, t.matching, receivedAt)
	}
}

// matchingRecords returns the subset of event.Records whose collection
// matches options.Collection (or all of them, if options.Collection is
// empty and options.Repository already narrowed the match).
func matchingRecords(event *models.ATEvent, options models.FilterOptions) []models.ATRecord {
	if options.Repository == "" && options.Collection == "" {
		return nil
	}
	if options.Repository != "" && event.Did != options.Repository {
		return nil
	}
	if options.Collection == "" {
		return event.Records
	}
	var out []models.ATRecord
	for _, rec := range event.Records {
		if rec.Collection == options.Collection {
			out = append(out, rec)
		}
	}
	return out
}

// broadcastToSubscription sends an enriched event to every connection in
// a subscription, pruning any that fail to write.
func (m *Manager) broadcastToSubscription(sub *Subscription, event *models.ATEvent, records []models.ATRecord, receivedAt time.Time) {
	sub.mu.RLock()
	connections := make([]*websocket.Conn, 0, len(sub.Connections))
	for conn := range sub.Connections {
		connections = append(connections, conn)
	}
	sub.mu.RUnlock()

	if len(connections) == 0 {
		return
	}

	forwardedAt := time.Now()
	enriched := models.EnrichedATEvent{
		Did:     event.Did,
		Rev:     event.Rev,
		Time:    event.Time,
		Records: records,
		Timestamps: models.EventTimestamps{
			Original:  event.Time,
			Received:  receivedAt.Format(time.RFC3339Nano),
			Forwarded: forwardedAt.Format(time.RFC3339Nano),
			FilterKey: sub.FilterKey,
		},
	}

	message := models.WSMessage{Type: "event", Timestamp: forwardedAt, Data: enriched}

	const writeTimeout = 30 * time.Second
	var dead []*websocket.Conn
	for _, conn := range connections {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(message); err != nil {
			dead = append(dead, conn)
		}
		keyword := sub.Options.Collection
		if keyword == "" {
			keyword = "any"
		}
		metrics.MessagesSent.WithLabelValues(keyword).Inc()
	}

	if len(dead) > 0 {
		sub.mu.Lock()
		removed := 0
		for _, conn := range dead {
			if _, exists := sub.Connections[conn]; exists {
				delete(sub.Connections, conn)
				removed++
			}
			_ = conn.Close()
		}
		sub.mu.Unlock()

		m.mu.Lock()
		m.totalConnections -= removed
		m.mu.Unlock()
	}
}

// GetStats returns statistics about the subscription manager.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	activeFilters := len(m.subscriptions)
	utilization := float64(m.totalConnections) / float64(max(m.maxConnections, 1)) * 100

	return map[string]interface{}{
		"active_filters":         activeFilters,
		"total_connections":      m.totalConnections,
		"max_connections":        m.maxConnections,
		"connection_utilization": fmt.Sprintf("%.1f%%", utilization),
		"available_connections":  m.maxConnections - m.totalConnections,
	}
}

// Shutdown gracefully shuts down the manager, closing every live
// connection and stopping the periodic cleanup routine.
func (m *Manager) Shutdown() {
	m.StopPeriodicCleanup()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		sub.mu.Lock()
		for conn := range sub.Connections {
			_ = conn.Close()
		}
		sub.Connections = make(map[*websocket.Conn]bool)
		sub.mu.Unlock()
	}
	m.totalConnections = 0
}

// startPeriodicCleanup launches the background goroutine that prunes
// subscriptions left with no connections (e.g. after an ungraceful
// client disconnect that skipped RemoveConnection).
func (m *Manager) startPeriodicCleanup() {
	m.mu.Lock()
	if m.cleanupRunning {
		m.mu.Unlock()
		return
	}
	m.cleanupRunning = true
	m.cleanupTicker = time.NewTicker(5 * time.Minute)
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.performPeriodicCleanup()
			case <-m.cleanupStop:
				return
			}
		}
	}()
}

// StopPeriodicCleanup stops the background cleanup goroutine started by
// startPeriodicCleanup. Safe to call more than once.
func (m *Manager) StopPeriodicCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cleanupRunning {
		return
	}
	m.cleanupRunning = false
	m.cleanupTicker.Stop()
	m.cleanupStop <- true
}

// performPeriodicCleanup removes every subscription that currently has no
// connections, including one that has never had a connection; it does
// not look at CreatedAt or LastConnectionAt.
func (m *Manager) performPeriodicCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, sub := range m.subscriptions {
		sub.mu.RLock()
		empty := len(sub.Connections) == 0
		sub.mu.RUnlock()
		if empty {
			delete(m.subscriptions, key)
			metrics.FiltersDeleted.Inc()
		}
	}
}

func generateFilterKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return hex.EncodeToString(b)
}

func displayValue(v string) string {
	if v == "" {
		return "ALL"
	}
	return v
}

// validateFilterContent rejects a filter with no criteria, and any
// non-empty field shorter than 3 characters (prevents a single
// collection-segment typo from matching far more than intended).
func validateFilterContent(options models.FilterOptions) string {
	if options.Repository == "" && options.Collection == "" {
		return "at least one of repository or collection is required"
	}
	if options.Repository != "" && len(options.Repository) < 3 {
		return "repository filter must be at least 3 characters"
	}
	if options.Collection != "" && len(options.Collection) < 3 {
		return "collection filter must be at least 3 characters"
	}
	return ""
}
