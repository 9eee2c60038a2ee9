// Package firehose dials the AT Protocol subscribeRepos relay and turns
// each commit event's CAR bytes into decoded records via internal/repo,
// forwarding the result to whatever the caller wires up (see
// Client.SetEventHandler).
package firehose

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/events"
	"github.com/bluesky-social/indigo/events/schedulers/sequential"
	"github.com/gorilla/websocket"

	"github.com/oyin-bo/atrepo/internal/config"
	"github.com/oyin-bo/atrepo/internal/metrics"
	"github.com/oyin-bo/atrepo/internal/models"
	"github.com/oyin-bo/atrepo/internal/repo"
)

// EventHandler is called once per decoded commit event.
type EventHandler func(models.ATEvent)

// Client dials the firehose, decodes each commit's repository bytes with
// internal/repo, and reports the result through an EventHandler.
type Client struct {
	url     string
	opts    repo.Options
	filters models.FilterOptions
	handler EventHandler
	logger  *slog.Logger

	mutex sync.RWMutex
	conn  *websocket.Conn
}

// NewClient creates a firehose client that dials url and decodes
// repository bytes using opts.
func NewClient(url string, opts repo.Options) *Client {
	return &Client{
		url:    url,
		opts:   opts,
		logger: slog.Default(),
	}
}

// NewClientWithConfig builds a Client from a loaded configuration: its
// firehose URL and decode policy come from cfg.
func NewClientWithConfig(cfg *config.Config) *Client {
	return NewClient(cfg.Firehose.URL, cfg.RepoOptions(""))
}

// SetEventHandler installs the callback invoked for each decoded commit.
func (c *Client) SetEventHandler(h EventHandler) { c.handler = h }

// UpdateFilters updates the filter options in a thread-safe manner.
func (c *Client) UpdateFilters(newFilters models.FilterOptions) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.filters = newFilters
}

// GetFilters returns the current filter options in a thread-safe manner.
func (c *Client) GetFilters() models.FilterOptions {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.filters
}

// Start dials the firehose and processes commit events until ctx is
// cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("connecting to firehose", "url", c.url)

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.logger.Info("connected to firehose")

	go func() {
		<-ctx.Done()
		c.logger.Info("shutting down firehose connection")
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("error closing firehose connection", "error", err)
		}
	}()

	rsc := &events.RepoStreamCallbacks{
		RepoCommit: func(evt *atproto.SyncSubscribeRepos_Commit) error {
			c.handleRepoCommit(evt)
			return nil
		},
	}

	sched := sequential.NewScheduler("atrepo-firehose", rsc.EventHandler)
	return events.HandleRepoStream(ctx, conn, sched, c.logger)
}

// handleRepoCommit decodes one commit's CAR bytes and, if it matches the
// client's current filters, reports it to the installed EventHandler.
func (c *Client) handleRepoCommit(evt *atproto.SyncSubscribeRepos_Commit) {
	metrics.MessagesReceived.Inc()

	filters := c.GetFilters()
	if filters.Repository != "" && evt.Repo != filters.Repository {
		return
	}

	view, err := repo.NewView(evt.Blocks, c.withFilter(filters.Collection))
	if err != nil {
		c.logger.Warn("failed to drain commit CAR", "did", evt.Repo, "rev", evt.Rev, "error", err)
		return
	}

	records, err := view.RecordsWithPath()
	if err != nil {
		c.logger.Warn("failed to walk commit MST", "did", evt.Repo, "rev", evt.Rev, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	atEvent := models.ATEvent{Did: evt.Repo, Rev: evt.Rev, Time: evt.Time}
	for _, rec := range records {
		// CollectionFilter above only scopes path reconciliation; this
		// client's own collection filter is applied here, on the decoded
		// $type.
		if filters.Collection != "" && rec.Type != filters.Collection {
			continue
		}
		out := models.ATRecord{Type: rec.Type, CID: rec.CID.String()}
		if rec.Path != nil {
			out.Collection = rec.Path.Collection
			out.Rkey = rec.Path.Rkey
		}
		atEvent.Records = append(atEvent.Records, out)
		if out.Collection != "" {
			metrics.CollectionActivity.WithLabelValues(out.Collection).Inc()
		}
		c.logger.Debug("decoded record", "did", evt.Repo, "type", rec.Type, "collection", out.Collection, "rkey", out.Rkey)
	}
	if len(atEvent.Records) == 0 {
		return
	}

	if c.handler != nil {
		c.handler(atEvent)
	}
}

func (c *Client) withFilter(collection string) repo.Options {
	opts := c.opts
	opts.CollectionFilter = collection
	return opts
}
