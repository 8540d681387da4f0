package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ReasonChain/internal/actions"
	"ReasonChain/internal/api"
	"ReasonChain/internal/auditor"
	"ReasonChain/internal/auth"
	"ReasonChain/internal/chain/provider"
	"ReasonChain/internal/config"
	"ReasonChain/internal/observability/alerting"
	"ReasonChain/internal/observability/metrics"
	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
	storage "ReasonChain/internal/storage/mysql"
	"ReasonChain/internal/task"
	"ReasonChain/internal/treasury"
	"ReasonChain/pkg/logger"
)

// main 是 ReasonChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("reasonchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("REASONCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "reasonchain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logger.AuditPath != "",
			Path:    cfg.Logger.AuditPath,
		},
	}); err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 承诺-揭示协议客户端与审计器。
	protocolClient, err := protocol.NewHTTPClient(protocol.HTTPConfig{
		BaseURL:   cfg.Protocol.BaseURL,
		ProgramID: cfg.Protocol.ProgramID,
		Timeout:   cfg.Protocol.Timeout(),
	})
	if err != nil {
		return err
	}

	aud := auditor.New(protocolClient, cfg.Protocol.AgentName,
		auditor.WithStorageBaseURI(cfg.Protocol.StorageBaseURI),
		auditor.WithExplorerBaseURL(cfg.Protocol.ExplorerBaseURL),
	)
	if err := aud.Initialize(ctx, cfg.Protocol.Identity, cfg.Protocol.AutoRegister); err != nil {
		return err
	}

	// 链注册表与金库服务。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Chains)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	balances := treasury.NewBalanceService(chainRegistry, cfg.Chains.Wallets)

	var feeClaimer *treasury.FeeClaimer
	if strings.TrimSpace(cfg.Fees.Contract) != "" {
		feeChain, ok := chainRegistry.Client(cfg.Fees.Chain)
		if !ok {
			if feeChain, err = chainRegistry.DefaultClient(); err != nil {
				return err
			}
		}
		feeClaimer, err = treasury.NewFeeClaimer(feeChain, treasury.FeeClaimConfig{
			Contract:      cfg.Fees.Contract,
			Owner:         cfg.Fees.Owner,
			Token:         cfg.Fees.Token,
			PrivateKeyHex: os.Getenv("REASONCHAIN_FEE_KEY"),
		})
		if err != nil {
			return err
		}
	}

	// 动作执行器注册表。
	registry := actions.NewRegistry()
	if feeClaimer != nil {
		if err := registry.Register(actions.NewFeeCollectionExecutor(feeClaimer)); err != nil {
			return err
		}
	}
	if err := registry.Register(actions.NewBalanceCheckExecutor(balances, reasoning.ActionRebalance)); err != nil {
		return err
	}
	if err := registry.Register(actions.NewBalanceCheckExecutor(balances, reasoning.ActionAllocation)); err != nil {
		return err
	}

	// 任务状态存储。
	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		_ = taskStore.Close()
	}()

	// 审计归档。
	var archive storage.AuditArchive
	switch cfg.Storage.Archive.Driver {
	case "", "jsonl":
		jsonl, err := storage.NewJSONLArchive(dataDir)
		if err != nil {
			return err
		}
		archive = jsonl
	case "mysql":
		sqlArchive, err := storage.NewSQLArchive(ctx, storage.Config{DSN: cfg.Storage.Archive.DSN})
		if err != nil {
			return err
		}
		defer sqlArchive.Close()
		archive = sqlArchive
	default:
		return fmt.Errorf("未知的归档驱动: %s", cfg.Storage.Archive.Driver)
	}

	// 任务队列。
	var taskQueue task.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			log.Printf("关闭任务队列失败: %v", err)
		}
	}()

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processorOptions := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Queue.Worker),
		task.WithAuditArchive(archive, cfg.Protocol.AgentName),
	}
	if cfg.Alerting.Enabled {
		var notifiers []alerting.Notifier
		if cfg.Alerting.DingTalkWebhook != "" {
			notifiers = append(notifiers, &alerting.DingTalkNotifier{
				Sender: alerting.NewWebhookClient(cfg.Alerting.DingTalkWebhook, cfg.Alerting.Timeout()),
			})
		}
		if cfg.Alerting.SlackWebhook != "" {
			notifiers = append(notifiers, &alerting.SlackNotifier{
				Sender:    alerting.NewSlackSender(cfg.Alerting.SlackWebhook, cfg.Alerting.Timeout()),
				ChannelID: cfg.Alerting.SlackChannel,
			})
		}
		if len(notifiers) > 0 {
			processorOptions = append(processorOptions, task.WithAlertDispatcher(alerting.NewFanout(notifiers...)))
		}
	}
	processor := task.NewProcessor(aud, registry, taskStore, taskQueue, taskQueue, processorOptions...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("任务处理器异常退出: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	authUsers := make([]auth.Credential, 0, len(cfg.Auth.Users))
	for _, user := range cfg.Auth.Users {
		authUsers = append(authUsers, auth.Credential{
			Name:        user.Name,
			APIKey:      user.APIKey,
			Permissions: user.Permissions,
		})
	}
	authService, err := auth.NewService(auth.Config{
		Mode:      auth.Mode(cfg.Auth.Mode),
		Secret:    cfg.Auth.Secret,
		AccessTTL: int64(cfg.Auth.TokenTTLSecond),
		Users:     authUsers,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Tasks:    taskService,
		Auditor:  aud,
		Balances: balances,
		Fees:     feeClaimer,
		Archive:  archive,
		Auth:     authService,
	})

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
