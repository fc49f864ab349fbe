package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/middleware"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/storage"
)

// maxJournalPage наибольшее число пакетов в одном ответе /api/journal
const maxJournalPage = 500

// StatsSource источник сводки сетевого сервера
type StatsSource interface {
	Stats() network.Stats
}

// JournalReader чтение журнала пакетов
type JournalReader interface {
	Range(from uint64, limit int) ([]storage.JournalEntry, error)
	Last() uint64
}

// RestServer административный REST API
type RestServer struct {
	router     *gin.Engine
	manager    *game.EventManager
	server     StatsSource
	journal    JournalReader
	adminToken string
	metrics    *ServerMetrics
	httpServer *http.Server
	logger     *logging.Logger
}

// Config конфигурация REST сервера
type Config struct {
	Addr       string             // адрес для запуска, ":8088"
	AdminToken string             // пустой токен отключает проверку
	Manager    *game.EventManager // менеджер событий сервера
	Server     StatsSource
	Journal    JournalReader // nil если журнал выключен
	Registry   *prometheus.Registry
}

// NewRestServer создаёт REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("arena_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("arena_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	rs := &RestServer{
		router:     router,
		manager:    config.Manager,
		server:     config.Server,
		journal:    config.Journal,
		adminToken: config.AdminToken,
		metrics:    NewServerMetrics(),
		logger:     logging.GetComponentLogger("api"),
	}
	rs.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/units", rs.handleUnits)
		api.GET("/units/:uid", rs.handleUnit)
		api.GET("/journal", rs.handleJournal)
	}

	// Изменяющие мир эндпоинты требуют токен администратора
	admin := api.Group("/")
	admin.Use(rs.adminMiddleware())
	{
		admin.POST("/npcs", rs.handleSpawnNPC)
		admin.DELETE("/npcs/:uid", rs.handleRemoveNPC)
	}
}

// Handler HTTP обработчик, пригодный для httptest
func (rs *RestServer) Handler() http.Handler { return rs.router }

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func fail(c *gin.Context, status int, format string, args ...interface{}) {
	c.JSON(status, GenericResponse{Success: false, Message: fmt.Sprintf(format, args...)})
}

func parseUID(c *gin.Context) (int32, bool) {
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "Неверный UID: %s", c.Param("uid"))
		return 0, false
	}
	return int32(uid), true
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats возвращает статистику сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	if rs.server != nil {
		stats["network"] = rs.server.Stats()
	}
	if rs.manager != nil {
		if v := rs.manager.View(); v != nil {
			stats["world"] = gin.H{
				"tick":    v.Tick,
				"units":   len(v.Units),
				"effects": v.Effects,
				"buffs":   v.Buffs,
			}
		}
	}
	if rs.journal != nil {
		stats["journal_last"] = rs.journal.Last()
	}

	stats["process"] = rs.metrics.Process()
	stats["host"] = rs.metrics.Host()
	stats["server_time"] = time.Now().Unix()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleUnits возвращает последний опубликованный снимок мира
func (rs *RestServer) handleUnits(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок мира",
		Data:    rs.manager.View(),
	})
}

func (rs *RestServer) handleUnit(c *gin.Context) {
	uid, ok := parseUID(c)
	if !ok {
		return
	}
	u, found := rs.manager.UnitView(uid)
	if !found {
		fail(c, http.StatusNotFound, "Юнит %d не найден", uid)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Юнит", Data: u})
}

// handleJournal отдаёт страницу журнала пакетов: ?from=<номер>&limit=<n>
func (rs *RestServer) handleJournal(c *gin.Context) {
	if rs.journal == nil {
		fail(c, http.StatusNotFound, "Журнал пакетов выключен")
		return
	}
	from, err := strconv.ParseUint(c.DefaultQuery("from", "1"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "Неверный параметр from")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "Неверный параметр limit")
		return
	}
	if limit > maxJournalPage {
		limit = maxJournalPage
	}

	entries, err := rs.journal.Range(from, limit)
	if err != nil {
		rs.logger.Error("❌ Чтение журнала: %v", err)
		fail(c, http.StatusInternalServerError, "Ошибка чтения журнала")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Пакетов: %d", len(entries)),
		Data: gin.H{
			"last":    rs.journal.Last(),
			"entries": entries,
		},
	})
}

// handleSpawnNPC создаёт NPC по запросу администратора
func (rs *RestServer) handleSpawnNPC(c *gin.Context) {
	var req game.NPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	uid, err := rs.manager.SpawnNPC(ctx, req)
	switch {
	case errors.Is(err, game.ErrUnknownArchetype), errors.Is(err, game.ErrLeaderMissing):
		fail(c, http.StatusBadRequest, "%v", err)
		return
	case err != nil:
		fail(c, http.StatusServiceUnavailable, "%v", err)
		return
	}

	rs.logger.Info("🤖 NPC %d (%s) создан через API", uid, req.Name)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "NPC создан",
		Data:    gin.H{"uid": uid},
	})
}

// handleRemoveNPC удаляет NPC
func (rs *RestServer) handleRemoveNPC(c *gin.Context) {
	uid, ok := parseUID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	err := rs.manager.RemoveNPC(ctx, uid)
	switch {
	case errors.Is(err, game.ErrNoSuchNPC):
		fail(c, http.StatusNotFound, "NPC %d не найден", uid)
		return
	case err != nil:
		fail(c, http.StatusServiceUnavailable, "%v", err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "NPC удалён"})
}

// Start запускает HTTP сервер; блокирует до Stop
func (rs *RestServer) Start() error {
	ln, err := net.Listen("tcp", rs.httpServer.Addr)
	if err != nil {
		return err
	}
	rs.logger.Info("🌐 REST API слушает %s", ln.Addr())
	if err := rs.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает HTTP сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}
