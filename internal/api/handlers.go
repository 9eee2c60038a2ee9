package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oyin-bo/atrepo/internal/models"
)

// @title atrepo firehose API
// @version 1.0.0
// @description Subscribes to the AT Protocol firehose, decodes repository commits, and filters them out to WebSocket clients by (repository, collection).
// @description
// @description ## Overview
// @description This API lets clients:
// @description - Create filtered subscriptions for a repository DID and/or a record collection (e.g. "app.bsky.feed.post")
// @description - Subscribe to real-time matching events via WebSocket connections
// @description - Monitor subscription statistics and health
// @description
// @description ## Safety Features
// @description - **Filter Validation**: every filter must specify at least one of repository or collection, to prevent forwarding the entire firehose
// @description - **Enhanced Timestamps**: every forwarded event carries timing metadata for forwarding-latency observability
// @description - **Thread Safety**: all operations are thread-safe
// @description
// @description ## WebSocket Protocol
// @description Connect to `/ws/{filterKey}` to receive real-time filtered events with ping/pong support.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @tag.name Health
// @tag.description Server health and status endpoints

// @tag.name Filters
// @tag.description Filter configuration and management

// @tag.name Subscriptions
// @tag.description Subscription management and statistics

// @tag.name WebSocket
// @tag.description Real-time WebSocket connections

// handleRoot provides basic information about the API
// @Summary API Information
// @Description Get basic information about the API and available endpoints
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse "API information retrieved successfully"
// @Router / [get]
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := models.APIResponse{
		Success: true,
		Message: "AT Protocol Firehose Filter Server API",
		Data: map[string]interface{}{
			"endpoints": []string{
				"GET /api/status - Get server status",
				"GET /api/filters - Get current global filter",
				"POST /api/filters/create - Create new filter subscription",
				"GET /api/subscriptions/{filterKey} - Get subscription details",
				"GET /api/stats - Get subscription statistics",
			},
			"filters": map[string]string{
				"repository": "Filter by repository DID (e.g., 'did:plc:abc123')",
				"collection": "Filter by record collection (e.g., 'app.bsky.feed.post')",
			},
			"requirements": []string{
				"At least one of repository or collection is required per filter",
				"Each non-empty filter field must be at least 3 characters",
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleStatus returns the current server status
// @Summary Server Status
// @Description Get the current server status and active filters
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse "Server status retrieved successfully"
// @Router /api/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filters := s.firehoseClient.GetFilters()

	response := models.APIResponse{
		Success: true,
		Message: "Server is running",
		Data: map[string]interface{}{
			"status":  "active",
			"filters": filters,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleFilters returns the current filter settings
// @Summary Get Current Filters
// @Description Retrieve the current global filter settings
// @Tags Filters
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse "Current filters retrieved successfully"
// @Router /api/filters [get]
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filters := s.firehoseClient.GetFilters()

	response := models.APIResponse{
		Success: true,
		Message: "Current filter settings",
		Data:    filters,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleUpdateFilters updates the firehose client's global filter
// @Summary Update Global Filters
// @Description Update the global filter settings (legacy endpoint)
// @Tags Filters
// @Accept json
// @Produce json
// @Param request body models.FilterUpdateRequest true "Filter update request"
// @Success 200 {object} models.APIResponse "Filters updated successfully"
// @Failure 400 {object} models.APIResponse "Invalid request body"
// @Router /api/filters/update [post]
func (s *Server) handleUpdateFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.FilterUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON in request body: "+err.Error())
		return
	}

	currentFilters := s.firehoseClient.GetFilters()

	if req.Repository != nil {
		currentFilters.Repository = *req.Repository
	}
	if req.Collection != nil {
		currentFilters.Collection = *req.Collection
	}

	s.firehoseClient.UpdateFilters(currentFilters)

	log.Printf("filters updated via API: repository=%s collection=%s",
		getFilterString(currentFilters.Repository), getFilterString(currentFilters.Collection))

	response := models.APIResponse{
		Success: true,
		Message: "Filters updated successfully",
		Data:    currentFilters,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// getFilterString returns "ALL" if filter is empty, otherwise returns the filter value
func getFilterString(filter string) string {
	if filter == "" {
		return "ALL"
	}
	return filter
}

// handleCreateFilter creates a new filter subscription and returns a filter key
// @Summary Create Filter Subscription
// @Description Create a new filter subscription for receiving real-time events. At least one of repository or collection is required.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param request body models.CreateFilterRequest true "Filter creation request"
// @Success 200 {object} models.CreateFilterResponse "Filter subscription created successfully"
// @Failure 400 {object} models.APIResponse "Invalid request - no criteria provided, or a criterion is too short"
// @Router /api/filters/create [post]
func (s *Server) handleCreateFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON in request body: "+err.Error())
		return
	}

	filterKey := s.subscriptions.CreateFilter(req.Options)
	if filterKey == "" {
		writeJSONError(w, http.StatusBadRequest, "Failed to create filter: at least one of repository or collection is required, and any field given must be at least 3 characters")
		return
	}

	response := models.CreateFilterResponse{
		FilterKey: filterKey,
		Options:   req.Options,
		CreatedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeJSONError writes a failed models.APIResponse with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	response := models.APIResponse{Success: false, Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}

// handleGetSubscriptions returns all filter subscriptions
// @Summary Get All Subscriptions
// @Description Retrieve all active filter subscriptions
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse "Subscriptions retrieved successfully"
// @Router /api/subscriptions [get]
func (s *Server) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	subscriptions := s.subscriptions.GetSubscriptions()

	response := models.APIResponse{
		Success: true,
		Message: "Filter subscriptions retrieved successfully",
		Data:    subscriptions,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleGetSubscription returns a specific filter subscription
// @Summary Get Subscription Details
// @Description Get detailed information about a specific filter subscription
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param filterKey path string true "The unique filter key for the subscription"
// @Success 200 {object} models.APIResponse "Subscription details retrieved successfully"
// @Failure 404 {object} models.APIResponse "Subscription not found"
// @Router /api/subscriptions/{filterKey} [get]
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/subscriptions/")
	if path == "" {
		http.Error(w, "Filter key required", http.StatusBadRequest)
		return
	}

	subscription, exists := s.subscriptions.GetSubscription(path)

	var response models.APIResponse
	if exists {
		response = models.APIResponse{
			Success: true,
			Message: "Filter subscription retrieved successfully",
			Data:    subscription,
		}
	} else {
		response = models.APIResponse{
			Success: false,
			Message: "Filter subscription not found",
		}
		w.WriteHeader(http.StatusNotFound)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleStats returns subscription manager statistics
// @Summary Get Statistics
// @Description Get subscription manager statistics and metrics
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse "Statistics retrieved successfully"
// @Router /api/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.subscriptions.GetStats()

	response := models.APIResponse{
		Success: true,
		Message: "Statistics retrieved successfully",
		Data:    stats,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleWebSocket handles WebSocket upgrade and message routing
// @Summary WebSocket Connection
// @Description Establish a WebSocket connection to receive real-time filtered events. Connect to /ws/{filterKey} with the filter key obtained from creating a subscription. An unknown filter key is reported after the upgrade as an "error" message (errorCode INVALID_FILTER_KEY), and the connection is then closed.
// @Tags WebSocket
// @Param filterKey path string true "The unique filter key obtained from creating a subscription"
// @Success 101 "WebSocket connection established"
// @Failure 400 "Filter key required, or the WebSocket handshake failed"
// @Router /ws/{filterKey} [get]
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/")
	if path == "" {
		http.Error(w, "Filter key required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	const (
		writeWait      = 30 * time.Second
		pongWait       = 60 * time.Second
		pingPeriod     = (pongWait * 9) / 10
		maxMessageSize = 512
	)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
	}
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
		}
		return nil
	})

	result := s.subscriptions.AddConnectionWithResult(path, conn)
	if !result.Success {
		errorData := map[string]string{
			"error":     result.ErrorMessage,
			"errorCode": result.ErrorCode,
			"filterKey": path,
		}

		errorMsg := models.WSMessage{Type: "error", Timestamp: time.Now(), Data: errorData}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Printf("Failed to set write deadline for error message: %v", err)
		}
		if err := conn.WriteJSON(errorMsg); err != nil {
			log.Printf("Failed to write error message: %v", err)
		}
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
		return
	}

	welcomeMsg := models.WSMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Data: map[string]string{
			"filterKey": path,
			"status":    "connected",
			"message":   "Successfully connected to filter subscription",
		},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Failed to set write deadline for welcome message: %v", err)
	}
	if err := conn.WriteJSON(welcomeMsg); err != nil {
		log.Printf("Failed to send welcome message: %v", err)
	}

	log.Printf("websocket connected for filter %s", path[:min(8, len(path))]+"...")

	defer func() {
		s.subscriptions.RemoveConnection(path, conn)
		if err := conn.Close(); err != nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			log.Printf("Error closing connection: %v", err)
		}
		log.Printf("websocket disconnected for filter %s", path[:min(8, len(path))]+"...")
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		defer func() {
			select {
			case done <- struct{}{}:
			default:
			}
		}()

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("WebSocket unexpected close: %v", err)
				}
				return
			}

			msgType, _ := msg["type"].(string)
			switch msgType {
			case "ping":
				pongMsg := models.WSMessage{Type: "pong", Timestamp: time.Now(), Data: map[string]string{"status": "alive"}}
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					log.Printf("Failed to set write deadline for pong: %v", err)
				}
				if err := conn.WriteJSON(pongMsg); err != nil {
					log.Printf("Failed to send pong: %v", err)
					return
				}
			case "get_filter":
				subscription, exists := s.subscriptions.GetSubscription(path)
				if exists {
					filterMsg := models.WSMessage{Type: "filter_info", Timestamp: time.Now(), Data: subscription}
					if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
						log.Printf("Failed to set write deadline for filter info: %v", err)
					}
					if err := conn.WriteJSON(filterMsg); err != nil {
						log.Printf("Failed to send filter info: %v", err)
						return
					}
				}
			default:
				echoMsg := models.WSMessage{Type: "echo", Timestamp: time.Now(), Data: msg}
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					log.Printf("Failed to set write deadline for echo message: %v", err)
				}
				if err := conn.WriteJSON(echoMsg); err != nil {
					log.Printf("Failed to echo message: %v", err)
					return
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Failed to set write deadline for ping: %v", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Failed to send ping: %v", err)
				return
			}
		}
	}
}
