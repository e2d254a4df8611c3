package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/corpus"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/ratelimit"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// 摄取CLI：不经过HTTP服务，直接对对象存储里的简历跑一轮摄取。
// 与服务端摄取共用同一把Redis运行锁，两边不会同时写语料库。
func main() {
	_ = godotenv.Load()

	var (
		configPath   string
		sourcePrefix string
		storeRef     string
		batchSize    int
		maxDocs      int
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.StringVarP(&sourcePrefix, "prefix", "p", "", "对象存储中的简历前缀，默认取配置")
	pflag.StringVar(&storeRef, "store", "", "语料库表名，默认取配置")
	pflag.IntVarP(&batchSize, "batch-size", "b", 0, "语料库写入批大小，默认取配置")
	pflag.IntVarP(&maxDocs, "max-docs", "n", 0, "本轮最多处理的文档数，0表示不限制")
	pflag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// Ctrl+C 取消当前运行，已写入批次保留
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("接收到终止信号，正在取消本轮摄取...")
		cancel()
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()

	if storageManager.MinIO == nil {
		log.Fatalf("对象存储未配置，无法摄取")
	}
	if storageManager.MySQL == nil {
		log.Fatalf("语料库后端未配置，无法摄取")
	}

	// 与服务端共用的运行锁；Redis未配置时退化为无锁单机运行
	if storageManager.Redis != nil {
		lockValue, err := storageManager.Redis.AcquireLock(ctx, constants.KeyIngestLock, constants.IngestLockTTL)
		if err != nil {
			log.Fatalf("获取摄取运行锁失败: %v", err)
		}
		if lockValue == "" {
			log.Fatalf("已有摄取运行正在进行，请稍后重试")
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer releaseCancel()
			if _, err := storageManager.Redis.ReleaseLock(releaseCtx, constants.KeyIngestLock, lockValue); err != nil {
				log.Printf("释放摄取运行锁失败: %v", err)
			}
		}()
	}

	pipeline, err := buildPipeline(ctx, cfg, storageManager, storeRef)
	if err != nil {
		log.Fatalf("初始化摄取管线失败: %v", err)
	}

	report, err := pipeline.Run(ctx, processor.RunOptions{
		SourcePrefix: sourcePrefix,
		BatchSize:    batchSize,
		MaxDocs:      maxDocs,
	})
	if err != nil {
		log.Fatalf("摄取运行失败: %v", err)
	}

	printReport(report)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config, storageManager *storage.Storage, storeRef string) (*processor.IngestionPipeline, error) {
	componentLogger := log.New(io.Discard, "", 0)
	if cfg.Logger.Level == "debug" {
		componentLogger = log.New(os.Stderr, "[Ingest] ", log.LstdFlags|log.Lshortfile)
	}

	chatModel, err := agent.NewOpenAIChatModel(cfg.LLM.APIKey, cfg.TagExtractor.ModelName, cfg.LLM.APIURL,
		agent.WithTemperature(cfg.TagExtractor.Temperature),
		agent.WithMaxTokens(cfg.TagExtractor.MaxTokens),
		agent.WithClientLogger(componentLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化聊天模型失败: %w", err)
	}
	limited := ratelimit.NewModelWithRateLimit(chatModel, cfg.TagExtractor.ModelName, cfg.ModelQPMLimits, cfg.TagExtractor.QPM)

	retry := ratelimit.DefaultPolicy(types.IsRetryable)
	if cfg.TagExtractor.MaxRetries > 0 {
		retry.MaxRetries = cfg.TagExtractor.MaxRetries
	}
	if cfg.TagExtractor.RetryWaitSeconds > 0 {
		retry.InitialDelay = time.Duration(cfg.TagExtractor.RetryWaitSeconds) * time.Second
	}
	extractor, err := parser.NewLLMTagExtractor(limited, componentLogger,
		parser.WithDocCharLimit(cfg.TagExtractor.DocCharLimit),
		parser.WithExtractorRetryPolicy(retry),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化标签抽取器失败: %w", err)
	}

	loader := parser.NewDocumentLoader(parser.WithLoaderLogger(componentLogger))
	if cfg.Tika.Type == "tika" && cfg.Tika.ServerURL != "" {
		loader.Register(".pdf", parser.NewTikaPDFExtractor(cfg.Tika.ServerURL,
			parser.WithMinimalMetadata(true),
			parser.WithTikaLogger(componentLogger),
		))
	} else {
		pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(componentLogger))
		if err != nil {
			return nil, fmt.Errorf("初始化PDF提取器失败: %w", err)
		}
		loader.Register(".pdf", pdfExtractor)
	}
	loader.Register(".docx", parser.NewDocxTextExtractor(parser.WithDocxLogger(componentLogger)))
	loader.Register(".txt", parser.NewPlainTextExtractor())

	if storeRef == "" {
		storeRef = cfg.Ingestion.StoreRef
	}
	corpusStore, err := corpus.NewStore(storageManager.MySQL, storeRef, componentLogger)
	if err != nil {
		return nil, fmt.Errorf("初始化语料库失败: %w", err)
	}

	comp := &processor.Components{
		Objects:   storageManager.MinIO,
		Loader:    loader,
		Chunker:   parser.NewWindowChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		Extractor: extractor,
		Corpus:    corpusStore,
		Reporter:  storageManager.MySQL,
	}
	if storageManager.Redis != nil {
		comp.State = storageManager.Redis
	}
	if storageManager.RabbitMQ != nil {
		comp.Events = storageManager.RabbitMQ
	}
	// 向量化只在Qdrant配置齐全时开启
	if storageManager.Qdrant != nil {
		embedder, err := parser.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.Embedding, componentLogger)
		if err != nil {
			return nil, fmt.Errorf("初始化Embedder失败: %w", err)
		}
		comp.Embedder = embedder
		comp.Vectors = storageManager.Qdrant
	}

	return processor.NewIngestionPipeline(comp, &processor.Settings{
		SourcePrefix: cfg.Ingestion.SourcePrefix,
		StoreRef:     storeRef,
		BatchSize:    cfg.Ingestion.BatchSize,
		MaxDocs:      cfg.Ingestion.MaxDocs,
		DocPause:     time.Duration(cfg.Ingestion.DocPauseSeconds) * time.Second,
		Extensions:   cfg.Ingestion.Extensions,
		Logger:       log.New(os.Stderr, "[Ingestion] ", log.LstdFlags|log.Lshortfile),
	})
}

func printReport(report *processor.Report) {
	log.Printf("摄取运行 %s 完成，状态: %s", report.RunID, report.State)
	log.Printf("成功 %d, 跳过 %d, 失败 %d, 耗时 %s",
		report.Succeeded, report.Skipped, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	for _, file := range report.FailedFiles {
		log.Printf("  失败文件: %s", file)
	}
}
