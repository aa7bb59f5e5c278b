// Package api provides the hidflux HTTP API server.
// Uses Fiber v2 (zero-alloc, fasthttp-based) for max throughput.
//
// The server runs in two shapes: the standalone query API (cmd/api)
// serves historical events out of ClickHouse with Redis caching, and the
// daemon embeds the same server with control routes enabled, driving
// program attachment against the live dispatch engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/bpfprog"
	"github.com/hidflux/hidflux/internal/cache"
	"github.com/hidflux/hidflux/internal/constants"
	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/storage"
)

// Server is the HTTP API server.
type Server struct {
	app    *fiber.App
	ch     *storage.ClickHouse
	redis  *cache.Redis
	logger *zap.Logger
	addr   string

	// Control plane, present only inside the daemon.
	mgr      *hidbpf.Manager
	registry *bpfprog.Registry

	// attachMu guards the device:program → descriptor index used to
	// detach by name.
	attachMu sync.Mutex
	attached map[string]*hidbpf.Program
}

// NewServer creates a Fiber API server. ClickHouse and Redis may be nil
// in the daemon-embedded shape; the query routes are then not registered.
func NewServer(addr string, ch *storage.ClickHouse, redis *cache.Redis, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		Prefork:       false,
		StrictRouting: false,
		ReadTimeout:   constants.HTTPReadTimeout,
		WriteTimeout:  constants.HTTPWriteTimeout,
		IdleTimeout:   constants.HTTPIdleTimeout,
	})

	s := &Server{
		app:      app,
		ch:       ch,
		redis:    redis,
		logger:   logger,
		addr:     addr,
		attached: make(map[string]*hidbpf.Program),
	}

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Format: "${time} ${status} ${method} ${path} ${latency}\n"}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Use(compress.New())
	app.Use(limiter.New(limiter.Config{
		Max:        constants.APIRateLimit,
		Expiration: time.Second,
	}))

	// Query routes (historical events out of ClickHouse)
	if ch != nil {
		v1 := app.Group("/api/v1")
		v1.Get("/events", s.handleEvents)
		v1.Get("/events/verdicts", s.handleVerdicts)
		v1.Get("/metrics/overview", s.handleOverview)
		v1.Get("/metrics/:kind", s.handleMetricsByKind)
		v1.Get("/devices/top", s.handleTopDevices)
	}

	// WebSocket for live events
	if redis != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", websocket.New(s.handleWS))
	}

	// Health
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	return s
}

// EnableControl registers the engine control routes. Called by the daemon,
// which owns the live Manager and the loaded BPF objects.
func (s *Server) EnableControl(mgr *hidbpf.Manager, registry *bpfprog.Registry) {
	s.mgr = mgr
	s.registry = registry

	v1 := s.app.Group("/api/v1")
	v1.Get("/objects", s.handleObjects)
	v1.Get("/devices", s.handleDevices)
	v1.Get("/devices/:id/programs", s.handleListPrograms)
	v1.Post("/devices/:id/programs", s.handleAttachProgram)
	v1.Delete("/devices/:id/programs/:name", s.handleDetachProgram)
	v1.Delete("/devices/:id", s.handleDestroyDevice)
}

// Start begins listening. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Stop gracefully shuts down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

// ─── Query Handlers ──────────────────────────────────────────────

// handleEvents returns paginated events from ClickHouse.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := min(c.QueryInt("limit", constants.APIDefaultPageSize), constants.APIMaxPageSize)
	offset := c.QueryInt("offset", 0)
	kind := c.Query("kind")
	verdict := c.Query("verdict")
	device := c.Query("device")
	since := c.Query("since") // ISO8601

	query := "SELECT timestamp, kind, verdict, device_id, device_name, bus, in_size, out_size, programs, abort_code, labels, numerics FROM hidflux.events WHERE 1=1"
	args := make([]any, 0)

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if verdict != "" {
		query += " AND verdict = ?"
		args = append(args, verdict)
	}
	if device != "" {
		query += " AND device_name = ?"
		args = append(args, device)
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			query += " AND timestamp >= ?"
			args = append(args, t)
		}
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.ch.Query(c.Context(), query, args...)
	if err != nil {
		s.logger.Error("Query failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var events []fiber.Map
	for rows.Next() {
		var (
			ts               time.Time
			evtKind          string
			evtVerdict       string
			devID            uint32
			devName          string
			bus              string
			inSize, outSize  int32
			progs, abortCode int32
			labels           map[string]string
			numerics         map[string]float64
		)
		if err := rows.Scan(&ts, &evtKind, &evtVerdict, &devID, &devName, &bus,
			&inSize, &outSize, &progs, &abortCode, &labels, &numerics); err != nil {
			continue
		}
		events = append(events, fiber.Map{
			"timestamp":   ts,
			"kind":        evtKind,
			"verdict":     evtVerdict,
			"device_id":   devID,
			"device_name": devName,
			"bus":         bus,
			"in_size":     inSize,
			"out_size":    outSize,
			"programs":    progs,
			"abort_code":  abortCode,
			"labels":      labels,
			"numerics":    numerics,
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// handleVerdicts returns event counts grouped by verdict.
func (s *Server) handleVerdicts(c *fiber.Ctx) error {
	cacheKey := "verdicts"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	rows, err := s.ch.Query(c.Context(),
		"SELECT verdict, count() AS cnt FROM hidflux.events GROUP BY verdict ORDER BY cnt DESC")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var verdicts []fiber.Map
	for rows.Next() {
		var v string
		var cnt uint64
		if err := rows.Scan(&v, &cnt); err != nil {
			continue
		}
		verdicts = append(verdicts, fiber.Map{"verdict": v, "count": cnt})
	}

	result, _ := json.Marshal(fiber.Map{"verdicts": verdicts})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleOverview returns dashboard summary metrics.
func (s *Server) handleOverview(c *fiber.Ctx) error {
	cacheKey := "overview"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	row := s.ch.QueryRow(c.Context(), `
		SELECT
			count() AS total_events,
			countIf(verdict = 'delivered') AS delivered,
			countIf(verdict = 'aborted') AS aborted,
			countIf(verdict = 'overflow') AS overflow,
			countIf(kind = 'fixup') AS fixups,
			avg(numerics['dispatch_sec']) AS avg_dispatch
		FROM hidflux.events
		WHERE timestamp >= now() - INTERVAL 1 HOUR
	`)

	var total, delivered, aborted, overflow, fixups uint64
	var avgDispatch float64
	if err := row.Scan(&total, &delivered, &aborted, &overflow, &fixups, &avgDispatch); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}

	result := fiber.Map{
		"total_events":     total,
		"delivered":        delivered,
		"aborted":          aborted,
		"overflow":         overflow,
		"fixups":           fixups,
		"avg_dispatch_sec": avgDispatch,
		"window":           "1h",
	}

	data, _ := json.Marshal(result)
	s.redis.Set(c.Context(), cacheKey, string(data), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.JSON(result)
}

// handleMetricsByKind returns time-series metrics for one event kind.
func (s *Server) handleMetricsByKind(c *fiber.Ctx) error {
	kind := c.Params("kind")
	window := c.Query("window", "1h")

	cacheKey := "metrics:" + kind + ":" + window
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	query := `
		SELECT
			toStartOfMinute(timestamp) AS minute,
			count() AS cnt,
			avg(numerics['dispatch_sec']) AS avg_dispatch,
			quantile(0.99)(numerics['dispatch_sec']) AS p99_dispatch
		FROM hidflux.events
		WHERE kind = ? AND timestamp >= now() - INTERVAL ` + sanitizeInterval(window) + `
		GROUP BY minute
		ORDER BY minute
	`

	rows, err := s.ch.Query(c.Context(), query, kind)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var series []fiber.Map
	for rows.Next() {
		var minute time.Time
		var cnt uint64
		var avgD, p99D float64
		if err := rows.Scan(&minute, &cnt, &avgD, &p99D); err != nil {
			continue
		}
		series = append(series, fiber.Map{
			"time":         minute,
			"count":        cnt,
			"avg_dispatch": avgD,
			"p99_dispatch": p99D,
		})
	}

	result, _ := json.Marshal(fiber.Map{"kind": kind, "series": series})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleTopDevices returns the busiest devices over the last hour.
func (s *Server) handleTopDevices(c *fiber.Ctx) error {
	cacheKey := "top_devices"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	rows, err := s.ch.Query(c.Context(), `
		SELECT device_name, bus, count() AS cnt, countIf(verdict = 'aborted') AS aborted
		FROM hidflux.events
		WHERE timestamp >= now() - INTERVAL 1 HOUR AND device_name != ''
		GROUP BY device_name, bus
		ORDER BY cnt DESC
		LIMIT 100
	`)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var items []fiber.Map
	for rows.Next() {
		var name, bus string
		var cnt, aborted uint64
		if err := rows.Scan(&name, &bus, &cnt, &aborted); err != nil {
			continue
		}
		items = append(items, fiber.Map{
			"device": name, "bus": bus, "count": cnt, "aborted": aborted,
		})
	}

	result, _ := json.Marshal(fiber.Map{"devices": items})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleWS streams live events via WebSocket (backed by Redis pub/sub).
func (s *Server) handleWS(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.redis.Subscribe(ctx, constants.RedisPubSubChannel)
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
			break
		}
	}
}

// ─── Control Handlers ────────────────────────────────────────────

// attachRequest is the body of POST /devices/:id/programs.
type attachRequest struct {
	Object     string `json:"object"`
	Program    string `json:"program"`
	InsertHead bool   `json:"insert_head"`
}

// handleObjects lists the loaded BPF objects and their filter programs.
func (s *Server) handleObjects(c *fiber.Ctx) error {
	var objects []fiber.Map
	for _, path := range s.registry.Objects() {
		coll, err := s.registry.Get(path)
		if err != nil {
			continue
		}
		objects = append(objects, fiber.Map{
			"object":   path,
			"programs": coll.ProgramNames(),
		})
	}
	return c.JSON(fiber.Map{"objects": objects})
}

// handleDevices lists the engine's live device table.
func (s *Server) handleDevices(c *fiber.Ctx) error {
	var devices []fiber.Map
	for _, d := range s.mgr.Devices() {
		info := d.Info()
		devices = append(devices, fiber.Map{
			"id":        info.ID,
			"name":      info.Name,
			"bus":       info.Bus.String(),
			"vendor":    fmt.Sprintf("%04x", info.Vendor),
			"product":   fmt.Sprintf("%04x", info.Product),
			"connected": d.Connected(),
			"destroyed": d.Destroyed(),
			"programs":  d.ProgramCount(),
		})
	}
	return c.JSON(fiber.Map{"devices": devices})
}

// handleListPrograms returns the attached programs in execution order.
func (s *Server) handleListPrograms(c *fiber.Ctx) error {
	d, err := s.deviceParam(c)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"programs": d.ProgramNames()})
}

// handleAttachProgram attaches a program from a loaded object to a device.
func (s *Server) handleAttachProgram(c *fiber.Ctx) error {
	d, err := s.deviceParam(c)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}

	var req attachRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "bad request body"})
	}

	coll, err := s.registry.Get(req.Object)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}

	flags := hidbpf.FlagNone
	if req.InsertHead {
		flags = hidbpf.FlagInsertHead
	}
	prog, err := coll.NewProgram(req.Program, d.ID(), flags)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.mgr.AttachProgram(prog); err != nil {
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	}

	s.attachMu.Lock()
	s.attached[attachKey(d.ID(), req.Program)] = prog
	s.attachMu.Unlock()

	return c.Status(201).JSON(fiber.Map{
		"device":   d.ID(),
		"program":  req.Program,
		"programs": d.ProgramNames(),
	})
}

// handleDetachProgram detaches a previously API-attached program.
func (s *Server) handleDetachProgram(c *fiber.Ctx) error {
	d, err := s.deviceParam(c)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	name := c.Params("name")

	s.attachMu.Lock()
	prog, ok := s.attached[attachKey(d.ID(), name)]
	if ok {
		delete(s.attached, attachKey(d.ID(), name))
	}
	s.attachMu.Unlock()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "program not attached via API"})
	}

	s.mgr.DetachProgram(prog)
	return c.JSON(fiber.Map{"device": d.ID(), "detached": name})
}

// handleDestroyDevice finally tears a device down. Irreversible.
func (s *Server) handleDestroyDevice(c *fiber.Ctx) error {
	d, err := s.deviceParam(c)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	s.mgr.DestroyDevice(d.ID())
	return c.JSON(fiber.Map{"device": d.ID(), "destroyed": true})
}

func (s *Server) deviceParam(c *fiber.Ctx) (*hidbpf.Device, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad device id %q", c.Params("id"))
	}
	d, ok := s.mgr.Device(uint32(id))
	if !ok {
		return nil, fmt.Errorf("unknown device %d", id)
	}
	return d, nil
}

func attachKey(id uint32, name string) string {
	return strconv.FormatUint(uint64(id), 10) + ":" + name
}

// sanitizeInterval prevents injection in interval strings.
func sanitizeInterval(s string) string {
	// Allow only digits + h/m/d
	for _, c := range s {
		if c >= '0' && c <= '9' {
			continue
		}
		if c == 'h' || c == 'm' || c == 'd' {
			continue
		}
		return "1 HOUR"
	}
	// Convert shorthand: "1h" → "1 HOUR"
	if len(s) >= 2 {
		num := s[:len(s)-1]
		if _, err := strconv.Atoi(num); err == nil {
			switch s[len(s)-1] {
			case 'h':
				return num + " HOUR"
			case 'm':
				return num + " MINUTE"
			case 'd':
				return fmt.Sprintf("%d HOUR", mustAtoi(num)*24)
			}
		}
	}
	return "1 HOUR"
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
