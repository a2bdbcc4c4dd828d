// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/handler"
	"github.com/darshan-sc/lab-assistant/internal/middleware"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/pipeline"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/internal/service"
	"github.com/darshan-sc/lab-assistant/pkg/database"
	"github.com/darshan-sc/lab-assistant/pkg/embedding"
	"github.com/darshan-sc/lab-assistant/pkg/es"
	"github.com/darshan-sc/lab-assistant/pkg/kafka"
	"github.com/darshan-sc/lab-assistant/pkg/llm"
	"github.com/darshan-sc/lab-assistant/pkg/log"
	"github.com/darshan-sc/lab-assistant/pkg/storage"
	"github.com/darshan-sc/lab-assistant/pkg/tika"
	"github.com/darshan-sc/lab-assistant/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO、Elasticsearch 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(
		&model.User{},
		&model.Project{}, &model.ProjectMember{}, &model.ProjectInvite{},
		&model.Document{}, &model.Section{}, &model.Chunk{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	projectRepo := repository.NewProjectRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	userService := service.NewUserService(userRepo, jwtManager)
	projectService := service.NewProjectService(projectRepo, userRepo, docRepo)
	documentService := service.NewDocumentService(docRepo, chunkRepo, projectRepo)
	retrievalService := service.NewRetrievalService(docRepo, projectRepo, embeddingClient)
	answerService := service.NewAnswerService(retrievalService, llmClient, conversationRepo)
	conversationService := service.NewConversationService(conversationRepo)

	// 6. 初始化文档索引管道并启动后台 Kafka 消费者
	structureExtractor := pipeline.NewStructureExtractor(llmClient, cfg.RAG.MaxStructureChars)
	processor := pipeline.NewProcessor(docRepo, chunkRepo, tikaClient, embeddingClient, structureExtractor)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	authRequired := middleware.AuthMiddleware(jwtManager, userService)
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(authRequired)
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Document 路由组，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(authRequired)
		{
			documentHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.POST("/:id/reindex", documentHandler.Reindex)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		// Project 路由组，需要认证
		projects := apiV1.Group("/projects")
		projects.Use(authRequired)
		{
			projectHandler := handler.NewProjectHandler(projectService)
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.Get)
			projects.PUT("/:id", projectHandler.Update)
			projects.DELETE("/:id", projectHandler.Delete)
			projects.GET("/:id/members", projectHandler.Members)
			projects.DELETE("/:id/members/:userId", projectHandler.RemoveMember)
			projects.POST("/:id/invites", projectHandler.CreateInvite)
			projects.POST("/join", projectHandler.Join)
		}

		askHandler := handler.NewAskHandler(answerService, userService, jwtManager)

		// 问答路由，需要认证
		ask := apiV1.Group("/ask")
		ask.Use(authRequired)
		{
			ask.POST("", askHandler.Ask)
		}

		// Conversation 路由组
		conversation := apiV1.Group("/users/conversation")
		conversation.Use(authRequired)
		{
			conversation.GET("", handler.NewConversationHandler(conversationService).GetConversations)
		}

		// Chat 路由 (WebSocket，token 在路径中)
		r.GET("/chat/:token", askHandler.Chat)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
