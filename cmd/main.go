package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/api/router"
	"resume-match-go/internal/config"
	"resume-match-go/internal/corpus"
	"resume-match-go/internal/match"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	appCoreLogger "resume-match-go/internal/logger"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

var (
	version     = "1.0.0"           //nolint:gochecknoglobals
	serviceName = "resume-match-go" //nolint:gochecknoglobals
)

func main() {
	// .env 先加载，密钥类配置允许用环境变量覆盖文件值
	_ = godotenv.Load()

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Infof("%s v%s 配置加载成功", serviceName, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingServiceName := cfg.Tracing.ServiceName
	if tracingServiceName == "" {
		tracingServiceName = serviceName
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, tracingServiceName)
	if err != nil {
		glog.Fatalf("初始化追踪导出失败: %v", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracing(shutdownCtx); err != nil {
			glog.Warnf("关闭追踪导出失败: %v", err)
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// 对象存储和语料库后端是匹配查询的硬依赖
	if storageManager.MinIO == nil {
		glog.Fatalf("对象存储未配置，服务无法启动")
	}
	if storageManager.MySQL == nil {
		glog.Fatalf("语料库后端未配置，服务无法启动")
	}

	extractorModel, err := buildChatModel(cfg, cfg.TagExtractor.ModelName, cfg.TagExtractor.Temperature, cfg.TagExtractor.MaxTokens, cfg.TagExtractor.QPM)
	if err != nil {
		glog.Fatalf("初始化标签抽取模型失败: %v", err)
	}
	scorerModel, err := buildChatModel(cfg, cfg.Scorer.ModelName, cfg.Scorer.Temperature, cfg.Scorer.MaxTokens, cfg.Scorer.QPM)
	if err != nil {
		glog.Fatalf("初始化评分模型失败: %v", err)
	}
	glog.Infof("LLM聊天模型初始化成功 (抽取: %s, 评分: %s)", cfg.TagExtractor.ModelName, cfg.Scorer.ModelName)

	extractor, err := parser.NewLLMTagExtractor(extractorModel, componentLogger(cfg, "[TagExtractor] "),
		parser.WithDocCharLimit(cfg.TagExtractor.DocCharLimit),
		parser.WithExtractorRetryPolicy(retryPolicy(cfg.TagExtractor.MaxRetries, cfg.TagExtractor.RetryWaitSeconds)),
	)
	if err != nil {
		glog.Fatalf("初始化标签抽取器失败: %v", err)
	}

	scorer, err := parser.NewLLMRelevanceScorer(scorerModel, componentLogger(cfg, "[Scorer] "),
		parser.WithScorerRetryPolicy(retryPolicy(cfg.Scorer.MaxRetries, cfg.Scorer.RetryWaitSeconds)),
	)
	if err != nil {
		glog.Fatalf("初始化相关性评分器失败: %v", err)
	}
	glog.Info("标签抽取器与相关性评分器初始化成功")

	embedder, err := parser.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.Embedding, componentLogger(cfg, "[Embedder] "))
	if err != nil {
		glog.Fatalf("初始化Embedder失败: %v", err)
	}
	glog.Infof("Embedder初始化成功 (模型: %s, 维度: %d)", cfg.LLM.Embedding.Model, cfg.LLM.Embedding.Dimensions)

	loader, err := buildDocumentLoader(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化文档加载器失败: %v", err)
	}
	glog.Info("文档加载器初始化成功")

	corpusStore, err := corpus.NewStore(storageManager.MySQL, cfg.Ingestion.StoreRef, componentLogger(cfg, "[Corpus] "))
	if err != nil {
		glog.Fatalf("初始化语料库失败: %v", err)
	}

	pipelineSettings := &processor.Settings{
		SourcePrefix: cfg.Ingestion.SourcePrefix,
		StoreRef:     cfg.Ingestion.StoreRef,
		BatchSize:    cfg.Ingestion.BatchSize,
		MaxDocs:      cfg.Ingestion.MaxDocs,
		DocPause:     time.Duration(cfg.Ingestion.DocPauseSeconds) * time.Second,
		Extensions:   cfg.Ingestion.Extensions,
		Logger:       log.New(appCoreLogger.Logger, "[Ingestion] ", log.LstdFlags|log.Lshortfile),
	}
	buildPipeline := func(storeRef string) (*processor.IngestionPipeline, error) {
		target := corpusStore
		if storeRef != "" && storeRef != cfg.Ingestion.StoreRef {
			var err error
			target, err = corpus.NewStore(storageManager.MySQL, storeRef, componentLogger(cfg, "[Corpus] "))
			if err != nil {
				return nil, err
			}
		}
		comp := &processor.Components{
			Objects:   storageManager.MinIO,
			Loader:    loader,
			Chunker:   parser.NewWindowChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
			Embedder:  embedder,
			Extractor: extractor,
			Corpus:    target,
			Reporter:  storageManager.MySQL,
		}
		// 可选后端判空后再放进接口字段，避免接口包住空指针
		if storageManager.Redis != nil {
			comp.State = storageManager.Redis
		}
		if storageManager.Qdrant != nil {
			comp.Vectors = storageManager.Qdrant
		}
		if storageManager.RabbitMQ != nil {
			comp.Events = storageManager.RabbitMQ
		}
		return processor.NewIngestionPipeline(comp, pipelineSettings)
	}

	pipeline, err := buildPipeline("")
	if err != nil {
		glog.Fatalf("初始化摄取管线失败: %v", err)
	}
	glog.Info("摄取管线初始化成功")

	svcDeps := &match.Dependencies{
		Extractor: extractor,
		Scorer:    scorer,
		Corpus:    corpusStore,
		Objects:   storageManager.MinIO,
		Pipeline:  pipeline,
		PipelineFactory: func(storeRef string) (match.IngestRunner, error) {
			return buildPipeline(storeRef)
		},
	}
	if storageManager.Redis != nil {
		svcDeps.Cache = storageManager.Redis
		svcDeps.Locker = storageManager.Redis
	}
	matchService, err := match.NewService(svcDeps, &match.Settings{
		DefaultTopN:      cfg.Scorer.TopN,
		DefaultThreshold: cfg.Scorer.Threshold,
		Logger:           log.New(appCoreLogger.Logger, "[MatchService] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		glog.Fatalf("初始化匹配服务失败: %v", err)
	}
	glog.Info("匹配服务初始化成功")

	matchHandler := handler.NewMatchHandler(cfg, matchService)
	var statuses handler.RunStatusReader
	if storageManager.Redis != nil {
		statuses = storageManager.Redis
	}
	ingestHandler := handler.NewIngestHandler(cfg, matchService, statuses)
	var chunkSearcher handler.ChunkSearcher
	if storageManager.Qdrant != nil {
		chunkSearcher = storageManager.Qdrant
	}
	searchHandler := handler.NewSearchHandler(embedder, chunkSearcher)
	glog.Info("HTTP处理器初始化成功")

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, matchHandler, ingestHandler, searchHandler)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Fatalf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化zerolog全局日志，并把Hertz日志接到同一个输出
func initLogger(cfg *config.Config) {
	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	hertzCompatibleLogger := hertzadapter.From(appCoreLogger.Logger)
	glog.SetLogger(hertzCompatibleLogger)
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}

// buildChatModel 构造OpenAI兼容聊天模型并按QPM限流包装
func buildChatModel(cfg *config.Config, modelName string, temperature float64, maxTokens, qpm int) (model.ToolCallingChatModel, error) {
	base, err := agent.NewOpenAIChatModel(cfg.LLM.APIKey, modelName, cfg.LLM.APIURL,
		agent.WithTemperature(temperature),
		agent.WithMaxTokens(maxTokens),
		agent.WithClientLogger(componentLogger(cfg, "[ChatModel] ")),
	)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewModelWithRateLimit(base, modelName, cfg.ModelQPMLimits, qpm), nil
}

// buildDocumentLoader 按配置组装各格式的文本提取器
func buildDocumentLoader(ctx context.Context, cfg *config.Config) (*parser.DocumentLoader, error) {
	loader := parser.NewDocumentLoader(parser.WithLoaderLogger(componentLogger(cfg, "[Loader] ")))

	if cfg.Tika.Type == "tika" && cfg.Tika.ServerURL != "" {
		var tikaOptions []parser.TikaOption
		if cfg.Tika.MetadataMode == "full" {
			tikaOptions = append(tikaOptions, parser.WithFullMetadata(true))
		} else if cfg.Tika.MetadataMode == "none" {
			tikaOptions = append(tikaOptions, parser.WithMinimalMetadata(false), parser.WithFullMetadata(false))
		} else { // "minimal" 或默认
			tikaOptions = append(tikaOptions, parser.WithMinimalMetadata(true))
		}
		if cfg.Tika.Timeout > 0 {
			tikaOptions = append(tikaOptions, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		tikaOptions = append(tikaOptions, parser.WithTikaLogger(componentLogger(cfg, "[TikaPDF] ")))
		loader.Register(".pdf", parser.NewTikaPDFExtractor(cfg.Tika.ServerURL, tikaOptions...))
		glog.Info("使用Tika PDF解析器")
	} else {
		pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(componentLogger(cfg, "[EinoPDF] ")))
		if err != nil {
			return nil, err
		}
		loader.Register(".pdf", pdfExtractor)
		glog.Info("使用Eino PDF解析器")
	}

	loader.Register(".docx", parser.NewDocxTextExtractor(parser.WithDocxLogger(componentLogger(cfg, "[Docx] "))))
	loader.Register(".txt", parser.NewPlainTextExtractor())
	return loader, nil
}

// componentLogger 组件级stdlib logger；非debug级别丢弃输出
func componentLogger(cfg *config.Config, prefix string) *log.Logger {
	if cfg.Logger.Level == "debug" {
		return log.New(os.Stderr, prefix, log.LstdFlags|log.Lshortfile)
	}
	return log.New(io.Discard, "", 0)
}

// retryPolicy 把配置里的重试参数换算成退避策略；零值沿用默认
func retryPolicy(maxRetries, waitSeconds int) ratelimit.Policy {
	policy := ratelimit.DefaultPolicy(types.IsRetryable)
	if maxRetries > 0 {
		policy.MaxRetries = maxRetries
	}
	if waitSeconds > 0 {
		policy.InitialDelay = time.Duration(waitSeconds) * time.Second
	}
	return policy
}
