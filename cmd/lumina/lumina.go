package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/api"
	"github.com/rtemka/lumina/pkg/auth"
	"github.com/rtemka/lumina/pkg/config"
	"github.com/rtemka/lumina/pkg/media"
	"github.com/rtemka/lumina/pkg/metrics"
	"github.com/rtemka/lumina/pkg/moderation"
	"github.com/rtemka/lumina/pkg/postgres"
	"github.com/rtemka/lumina/pkg/service"
	"github.com/rtemka/lumina/pkg/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// настройки базы данных
const (
	maxConns        = 50
	maxConnIdleTime = 4 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	zl := zapLogger(os.Stdout)
	defer func() {
		_ = zl.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// создание контекста для регулирования
	// закрытие всех подсистем
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDB(ctx, cfg, zl, 5, time.Second)
	if err != nil {
		return err
	}
	defer db.Close()

	store, closeStore, err := mediaStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	banned := moderation.FromList(cfg.BannedWords)
	svc := service.New(db, tokens,
		service.WithMedia(store),
		service.WithModeration(banned),
		service.WithLogger(zl.Named("service")),
	)

	opts := api.Options{
		ClientURL: cfg.ClientURL,
		RateLimit: rate.Limit(cfg.RateLimitRPS),
		Burst:     cfg.RateLimitBurst,
		Metrics:   metrics.New(),
	}
	if d, ok := store.(*media.Disk); ok {
		opts.UploadsDir = d.Dir()
	}

	zl.Info("configuration loaded",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("media_backend", cfg.Media.Backend),
		zap.Int("banned_words", banned.Len()),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)

	var wg sync.WaitGroup
	wg.Add(1)

	servers := []*http.Server{
		startRestServer(cfg.Port, api.New(svc, zl.Named("api"), opts), zl, &wg),
	}

	// логика закрытия сервера
	cancelation(cancel, zl, servers)

	wg.Wait()

	return nil
}

// cancellation отслеживает сигналы прерывания и,
// если они получены, "мягко" отменяет контекст приложения и
// гасит серверы.
func cancelation(cancel context.CancelFunc, logger *zap.Logger, servers []*http.Server) {
	// ловим сигналов прерывания, типа CTRL-C
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-stop // получили сигнал
		sl := logger.Sugar()
		sl.Warnf("got signal %q", sig)

		ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()

		// закрываем серверы
		for i := range servers {
			if err := servers[i].Shutdown(ctx); err != nil {
				sl.Info(err)
			}
		}

		cancel() // закрываем контекст приложения
	}()
}

var ErrRetryExceeded = errors.New("connect DB: number of retries exceeded")

// connectDB подключается к выбранной БД и создает схему.
func connectDB(ctx context.Context, cfg config.Config, logger *zap.Logger,
	retries int, interval time.Duration) (domain.Repository, error) {

	for i := 0; i < retries; i++ {
		db, err := openDB(cfg)
		if err != nil {
			logger.Warn("connect DB", zap.Int("attempt", i+1), zap.Error(err))
			time.Sleep(interval)
			continue
		}

		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate DB: %w", err)
		}

		return db, nil
	}

	return nil, ErrRetryExceeded
}

type migrator interface {
	domain.Repository
	Migrate(ctx context.Context) error
}

func openDB(cfg config.Config) (migrator, error) {
	if cfg.DBDriver == config.DriverPostgres {
		db, err := postgres.New(cfg.DBURL)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, err
		}
		return db, nil
	}

	db, err := sqlite.New(cfg.DBURL)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	db.DB.SetConnMaxIdleTime(maxConnIdleTime)
	db.DB.SetMaxOpenConns(maxConns)
	db.DB.SetMaxIdleConns(maxConns)
	return db, nil
}

// mediaStore возвращает хранилище загружаемых файлов
// и функцию для его закрытия.
func mediaStore(ctx context.Context, cfg config.Config) (media.Store, func(), error) {
	nop := func() {}
	switch cfg.Media.Backend {
	case config.MediaGCS:
		g, err := media.NewGCS(ctx, cfg.Media.GCSBucket, cfg.Media.GCSCredentials)
		if err != nil {
			return nil, nop, err
		}
		return g, func() { _ = g.Close() }, nil
	case config.MediaS3:
		s, err := media.NewS3(cfg.Media.S3Bucket, cfg.Media.S3Region)
		if err != nil {
			return nil, nop, err
		}
		return s, nop, nil
	}
	d, err := media.NewDisk(cfg.Media.UploadsDir, cfg.ServerURL)
	if err != nil {
		return nil, nop, err
	}
	return d, nop, nil
}

// startRestServer запускает сервер REST API.
func startRestServer(addr string, handler http.Handler, logger *zap.Logger, wg *sync.WaitGroup) *http.Server {
	// конфигурируем сервер
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		IdleTimeout:       3 * time.Minute,
		ReadHeaderTimeout: time.Minute,
	}

	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error(err.Error())
		}
		logger.Warn("server is shut down")
		wg.Done()
	}()
	logger.Info("REST server started", zap.String("address", srv.Addr))
	return srv
}

var encoderCfg = zapcore.EncoderConfig{
	MessageKey: "msg",
	NameKey:    "name",

	LevelKey:    "level",
	EncodeLevel: zapcore.CapitalLevelEncoder,

	CallerKey:    "caller",
	EncodeCaller: zapcore.ShortCallerEncoder,

	TimeKey:    "time",
	EncodeTime: zapcore.RFC3339TimeEncoder,
}

func zapLogger(w io.Writer) *zap.Logger {
	zl := zap.New(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(zapcore.AddSync(w)),
			zapcore.DebugLevel,
		),
		zap.AddCaller(),
	)
	return zl
}
