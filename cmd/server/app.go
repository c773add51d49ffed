package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"synapse-go/internal/config"
	"synapse-go/internal/handler"
	"synapse-go/internal/middleware"
	"synapse-go/internal/pipeline"
	"synapse-go/internal/repository"
	"synapse-go/internal/retrieval"
	"synapse-go/internal/service"
	"synapse-go/pkg/database"
	"synapse-go/pkg/embedding"
	"synapse-go/pkg/es"
	"synapse-go/pkg/kafka"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/log"
	"synapse-go/pkg/qdrant"
	"synapse-go/pkg/storage"
	"synapse-go/pkg/tika"
	"synapse-go/pkg/token"
	"synapse-go/pkg/vectorstore"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// app 持有一次进程内组装好的所有组件。
type app struct {
	cfg      config.Config
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	store    vectorstore.Store
	producer *kafka.Producer
	consumer *kafka.Consumer

	userRepo repository.UserRepository

	userService     service.UserService
	notebookService service.NotebookService
	sourceService   service.SourceService
	chatService     service.ChatService
	searchService   service.SearchService
}

// newVectorStore 按 vector_store.driver 选择向量库实现。
func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "elasticsearch":
		return es.NewStore(cfg.Elasticsearch)
	case "qdrant":
		return qdrant.NewStore(cfg.Qdrant)
	case "memory":
		log.Warnf("使用内存向量库，重启后索引会丢失")
		return vectorstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store driver %q", cfg.Driver)
	}
}

// buildApp 初始化外部依赖并完成依赖注入。
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	database.InitDB(cfg.Database)
	database.InitRedis(cfg.Database.Redis)

	objects, err := storage.NewObjectStore(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}
	store, err := newVectorStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	tikaClient := tika.NewClient(cfg.Tika)
	gateway := retrieval.NewGateway(store, embeddingClient, llmClient, retrieval.OptionsFromConfig(cfg.Retrieval, cfg.Ingestion))

	userRepo := repository.NewUserRepository(database.DB)
	notebookRepo := repository.NewNotebookRepository(database.DB)
	sourceRepo := repository.NewSourceRepository(database.DB)
	messageRepo := repository.NewChatMessageRepository(database.DB)
	tokenRepo := repository.NewTokenRepository(database.RDB)

	segmenter := pipeline.NewSegmenter(
		pipeline.WithChunkSize(cfg.Ingestion.ChunkSize),
		pipeline.WithChunkOverlap(cfg.Ingestion.ChunkOverlap),
	)
	processor := pipeline.NewProcessor(objects, tikaClient, segmenter, gateway, sourceRepo)

	a := &app{cfg: cfg, store: store, userRepo: userRepo}

	var dispatcher service.IngestionDispatcher
	switch strings.ToLower(cfg.Ingestion.Mode) {
	case "", "inline":
		dispatcher = pipeline.NewInlineDispatcher(processor)
	case "kafka":
		a.producer = kafka.NewProducer(cfg.Kafka)
		a.consumer = kafka.NewConsumer(cfg.Kafka, database.RDB, processor, cfg.Ingestion.MaxAttempts)
		dispatcher = a.producer
	default:
		return nil, fmt.Errorf("unsupported ingestion mode %q", cfg.Ingestion.Mode)
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireMinutes, cfg.JWT.RefreshTokenExpireDays)
	a.userService = service.NewUserService(userRepo, tokenRepo, jwtManager)
	a.notebookService = service.NewNotebookService(notebookRepo, sourceRepo, gateway, objects)
	a.sourceService = service.NewSourceService(notebookRepo, sourceRepo, objects, dispatcher, gateway, cfg.Ingestion.MaxFileSizeMB<<20)
	a.chatService = service.NewChatService(
		notebookRepo,
		sourceRepo,
		messageRepo,
		service.NewQueryRewriter(llmClient),
		gateway,
		service.NewAnswerGenerator(llmClient, cfg.LLM.Prompt.RefusalText, cfg.LLM.Generation.Temperature),
		cfg.Chat.HistoryLimit,
	)
	a.searchService = service.NewSearchService(notebookRepo, sourceRepo, gateway)
	a.auth = middleware.NewAuthenticator(jwtManager, tokenRepo, a.userService)
	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.AskPerMinute, cfg.RateLimit.Burst)
	return a, nil
}

// close 释放外部连接，按创建的逆序关闭。
func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Errorf("关闭向量库连接失败: %v", err)
	}
	if err := database.RDB.Close(); err != nil {
		log.Errorf("关闭 Redis 失败: %v", err)
	}
	if sqlDB, err := database.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// routes 注册所有路由。
func (a *app) routes() *gin.Engine {
	gin.SetMode(a.cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = a.cfg.CORS.AllowOrigins
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsCfg), middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(a.userService)
	notebookHandler := handler.NewNotebookHandler(a.notebookService)
	sourceHandler := handler.NewSourceHandler(a.sourceService)
	chatHandler := handler.NewChatHandler(a.chatService, a.auth, a.limiter)
	searchHandler := handler.NewSearchHandler(a.searchService)
	conversationHandler := handler.NewConversationHandler(a.chatService)
	authRequired := middleware.AuthMiddleware(a.auth)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refreshToken", handler.NewAuthHandler(a.userService).RefreshToken)

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/", authRequired)
			authed.GET("/me", userHandler.GetProfile)
			authed.POST("/logout", userHandler.Logout)
		}

		notebooks := apiV1.Group("/notebooks", authRequired)
		{
			notebooks.POST("", notebookHandler.Create)
			notebooks.GET("", notebookHandler.List)
			notebooks.DELETE("/:id", notebookHandler.Delete)

			notebooks.GET("/:id/sources", sourceHandler.List)
			notebooks.POST("/:id/sources", sourceHandler.Upload)
			notebooks.DELETE("/:id/sources/:sourceId", sourceHandler.Delete)
			notebooks.GET("/:id/sources/:sourceId/download", sourceHandler.Download)

			notebooks.GET("/:id/chat_history", conversationHandler.GetHistory)
			notebooks.POST("/:id/ask", a.limiter.Middleware(), chatHandler.Ask)
			notebooks.GET("/:id/search", searchHandler.Search)
		}
	}
	// WebSocket 无法携带 Authorization 头，token 放在路径里
	r.GET("/chat/:token", chatHandler.Handle)
	return r
}

// runServe 启动 HTTP 服务并实现优雅停机。
func runServe(parent context.Context, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.consumer.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: a.routes(),
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
	case <-ctx.Done():
		log.Info("接收到停机信号，正在关闭服务...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	stop()
	wg.Wait()
	log.Info("服务已优雅关闭")
	return nil
}
