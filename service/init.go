/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移与各核心服务的装配
 * @architecture 分层架构 - 服务层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 应用启动时执行初始化流程：数据库 -> 迁移 -> 服务装配 -> 后台任务
 * @rules 确保所有依赖服务正常启动后才提供API服务；Redis不可用时降级为单实例模式
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs dev_docs/model.md
 */

package service

import (
	"fmt"
	"log"
	"os"

	"foresight-service/client"
	"foresight-service/client/connectors"
	"foresight-service/service/content"
	"foresight-service/service/crawler"
	"foresight-service/service/database"
	"foresight-service/service/distributed_lock"
	"foresight-service/service/ensemble"
	"foresight-service/service/event"
	"foresight-service/service/learning"
	"foresight-service/service/lifecycle"
	"foresight-service/service/rate_limiter"
	"foresight-service/service/scheduler"
	"foresight-service/service/scope"
	"foresight-service/service/testdata"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                      *gorm.DB
	GlobalEventService      *event.EventService
	GlobalContentService    *content.ContentService
	GlobalScopeResolver     *scope.Resolver
	GlobalLockService       distributed_lock.DistributedLock
	GlobalRateLimiter       ensemble.RateLimiter
	GlobalLLMClient         client.LLMCapability
	GlobalEnsembleEngine    *ensemble.Engine
	GlobalLifecycleService  *lifecycle.LifecycleService
	GlobalEvaluationService *lifecycle.EvaluationService
	GlobalLearningService   *learning.LearningService
	GlobalCrawlerService    *crawler.CrawlerService
	GlobalSchedulerService  *scheduler.SchedulerService
	GlobalIsolationService  *testdata.IsolationService
	GlobalKafkaConnector    *connectors.KafkaConnector
	GlobalMQTTConnector     *connectors.MQTTConnector
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库表结构迁移完成")

	if err := database.InitializeData(DB); err != nil {
		log.Fatalf("基础数据初始化失败: %v", err)
	}
	log.Println("基础数据初始化完成")
}

// initServices 初始化服务
func initServices() {
	// 初始化事件服务（SSE推送 + 数据库变更监听）
	GlobalEventService = event.NewEventService(DB)

	// 内容摄取与四层去重
	window := content.NewRecentWindow(content.DefaultWindowTTL, content.DefaultWindowMaxSize)
	dedupEngine := content.NewDedupEngine(DB, window)
	GlobalContentService = content.NewContentService(DB, dedupEngine)

	// 作用域解析器
	GlobalScopeResolver = scope.NewResolver(DB)

	// Redis依赖的分布式锁与LLM限流，不可用时降级并告警
	if lock, err := distributed_lock.NewRedisLock(); err != nil {
		log.Printf("Redis分布式锁初始化失败，降级为单实例模式: %v", err)
	} else {
		GlobalLockService = lock
	}
	if limiter, err := rate_limiter.NewRedisRateLimiter(); err != nil {
		log.Printf("Redis限流器初始化失败，LLM调用将不限流: %v", err)
	} else {
		GlobalRateLimiter = limiter
	}

	// LLM客户端
	llmClient, err := client.NewLLMClient()
	if err != nil {
		log.Printf("LLM客户端初始化失败，集成引擎不可用: %v", err)
	} else {
		GlobalLLMClient = llmClient
	}

	// 集成引擎与合成器
	synthesizer := ensemble.NewSynthesizer(DB, ensemble.LoadThresholdPolicy(), ensemble.DefaultEvaluationWindow)
	GlobalEnsembleEngine = ensemble.NewEngine(DB, GlobalScopeResolver, GlobalLLMClient,
		GlobalLockService, GlobalRateLimiter, synthesizer)

	// 评估、学习与生命周期，学习服务作为评估建议回调注入
	GlobalEvaluationService = lifecycle.NewEvaluationService(DB, GlobalScopeResolver)
	GlobalLearningService = learning.NewLearningService(DB)
	GlobalEvaluationService.SetSuggester(GlobalLearningService)
	GlobalLifecycleService = lifecycle.NewLifecycleService(DB, GlobalEvaluationService, GlobalEventService)

	// 测试数据隔离
	GlobalIsolationService = testdata.NewIsolationService(DB)

	// 爬取调度
	sourceRunner := crawler.NewSourceRunner(DB, GlobalContentService)
	GlobalCrawlerService = crawler.NewCrawlerService(DB, sourceRunner)
	if err := GlobalCrawlerService.Start(); err != nil {
		log.Printf("启动爬取调度服务失败: %v", err)
	}

	// 到期扫描与错失机会扫描
	GlobalSchedulerService = scheduler.NewSchedulerService(GlobalLifecycleService, GlobalEvaluationService)
	if err := GlobalSchedulerService.Start(); err != nil {
		log.Printf("启动调度器服务失败: %v", err)
	}

	// 初始化消息摄取连接器
	initializeConnectors()

	log.Println("服务初始化完成")
}

// initializeConnectors 初始化Kafka/MQTT摄取连接器，按环境变量开关启用
func initializeConnectors() {
	if os.Getenv("KAFKA_INGEST_ENABLED") == "true" {
		GlobalKafkaConnector = connectors.NewKafkaConnector(GlobalContentService)
		if err := GlobalKafkaConnector.Connect(); err != nil {
			log.Printf("Kafka摄取连接器启动失败: %v", err)
		} else {
			log.Println("Kafka摄取连接器已启动")
		}
	}

	if os.Getenv("MQTT_INGEST_ENABLED") == "true" {
		GlobalMQTTConnector = connectors.NewMQTTConnector(GlobalContentService)
		if err := GlobalMQTTConnector.Connect(); err != nil {
			log.Printf("MQTT摄取连接器启动失败: %v", err)
		} else {
			log.Println("MQTT摄取连接器已启动")
		}
	}
}
