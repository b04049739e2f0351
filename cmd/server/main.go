package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/guessing-game/internal"
	"github.com/koopa0/guessing-game/internal/migrations"
	"github.com/koopa0/guessing-game/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔案路徑")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(config.Log.Level, config.Log.Format, os.Stdout)
	slog.SetDefault(log)

	if err := run(config, log); err != nil {
		log.Error("伺服器異常結束", "error", err)
		os.Exit(1)
	}

	log.Info("伺服器已停止")
}

// run 組裝依賴並阻塞到收到關閉信號
func run(config *internal.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 使用者與分數儲存
	var (
		users  internal.UserStore
		scores internal.ScoreStore
		board  internal.LeaderboardReader
		source internal.ScoreSource
	)
	if config.Postgres.Enabled {
		pool, err := connectPostgres(ctx, config, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := internal.NewPostgresUserStore(pool)
		users, scores, board, source = store, store, store, store
	} else {
		log.Warn("PostgreSQL 未啟用，使用記憶體使用者儲存")
		store := internal.NewMemoryUserStore()
		users, scores, board = store, store, store
	}

	effectOpts := []internal.EffectOption{}

	// 排行榜
	if config.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:         config.Redis.Addr,
			Password:     config.Redis.Password,
			DB:           config.Redis.DB,
			PoolSize:     config.Redis.PoolSize,
			MinIdleConns: config.Redis.MinIdleConns,
			MaxRetries:   config.Redis.MaxRetries,
			ReadTimeout:  config.Redis.ReadTimeout,
			WriteTimeout: config.Redis.WriteTimeout,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("連接 Redis: %w", err)
		}

		leaderboard := internal.NewRedisLeaderboard(client, config.Redis.Key)
		if source != nil {
			n, err := leaderboard.Warm(ctx, source)
			if err != nil {
				log.Warn("排行榜預熱失敗", "error", err)
			} else {
				log.Info("排行榜已重建", "users", n)
			}
		}

		effectOpts = append(effectOpts, internal.WithLeaderboard(leaderboard))
		board = leaderboard
	}

	// 回合結果事件流
	if config.NATS.Enabled {
		publisher, err := internal.NewNATSResultPublisher(config.NATS)
		if err != nil {
			return err
		}
		defer publisher.Close()

		effectOpts = append(effectOpts, internal.WithResultPublisher(publisher))
	}

	effects := internal.NewEffectQueue(scores, log, effectOpts...)
	hub := internal.NewWebSocketHub(config.WebSocket, log)
	sessions := internal.NewSessionStore(log)
	engine := internal.NewEngine(sessions, users, hub, effects, log)
	hub.SetHandler(internal.NewDispatcher(engine, log))

	handler := internal.NewHandler(engine, hub, board, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("伺服器啟動", "port", config.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("伺服器錯誤: %w", err)
		}

	case sig := <-shutdown:
		log.Info("收到關閉信號", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("關閉伺服器失敗", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("強制關閉伺服器失敗", "error", closeErr)
			}
		}

		// 關閉所有 WebSocket，斷線處理完成後才銷毀場次
		hub.Stop()
		engine.Close()

		// 送出剩餘的加分與回合結果
		effects.Shutdown()
	}

	return nil
}

// connectPostgres 建立連接池並執行遷移
func connectPostgres(ctx context.Context, config *internal.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	dsn := config.PostgresURL()

	if config.Postgres.AutoMigrate {
		m, err := migrations.New(dsn, log)
		if err != nil {
			return nil, fmt.Errorf("建立遷移管理器: %w", err)
		}
		if err := m.Up(); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("執行遷移: %w", err)
		}
		if err := m.Close(); err != nil {
			log.Warn("關閉遷移管理器失敗", "error", err)
		}
	}

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 PostgreSQL 配置: %w", err)
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("連接 PostgreSQL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL 連線檢查: %w", err)
	}

	return pool, nil
}
