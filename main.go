package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PChatGate/data/database/mgo/mongoutil"
	"PChatGate/global"
	"PChatGate/logger"
	"PChatGate/middleware"
	midsec "PChatGate/middleware/security"
	chatapi "PChatGate/module/chat"
	"PChatGate/module/chat/service"
	"PChatGate/module/chat/store"
	"PChatGate/service/chat"
	"PChatGate/service/chat/handlers"
	"PChatGate/service/eventbus"
	"PChatGate/service/health"
	"PChatGate/service/mgo"
	"PChatGate/service/notify"
	"PChatGate/service/storage"
	redisx "PChatGate/service/storage/redis"
	"PChatGate/tools/ids"
	"PChatGate/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.Error("gateway exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	cfg, err := global.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)
	ids.SetNodeID(cfg.Node.Snowflake)
	logger.Info("starting gateway", zap.String("node", cfg.Node.ID), zap.String("bus", cfg.Bus.Driver), zap.String("notify", cfg.Notify.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Redis
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	// 2. Mongo，首次连上才继续
	mgr := mgo.NewManager(&mongoutil.Config{
		Uri:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	})
	mgr.OnConnect = store.EnsureIndexes
	mgr.StartAsync(ctx)
	wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgr.WaitReady(wctx)
	cancel()
	if err != nil {
		return err
	}

	st := store.NewMongoStore(mgr)
	cache := storage.NewCache(rdb, storage.Config{
		NodeID:      cfg.Node.ID,
		SessionTTL:  cfg.Cache.SessionTTL,
		TypingTTL:   cfg.Cache.TypingTTL,
		MessagesTTL: cfg.Cache.MessagesTTL,
		MessagesMax: cfg.Cache.MessagesMax,
	})

	// 3. 事件总线
	driver, err := newBusDriver(cfg, rdb)
	if err != nil {
		return err
	}
	bus := eventbus.New(driver, cfg.Node.ID)
	defer bus.Close()

	notifier, err := newNotifier(cfg, rdb)
	if err != nil {
		return err
	}
	defer notifier.Close()

	// 4. 业务 + 网关
	svc := service.New(st, cache, bus, notifier, service.Config{CacheMax: cfg.Cache.MessagesMax})
	jwt := security.Options{Secret: []byte(cfg.JWT.Secret), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL}
	srv := chat.NewServer(chat.Config{
		NodeID:          cfg.Node.ID,
		JWT:             jwt,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		SendQueue:       cfg.WS.SendQueue,
		PingInterval:    cfg.WS.PingInterval,
		PongTimeout:     cfg.WS.PongTimeout,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
	}, svc, cache, bus)
	handlers.Register(srv)

	sup := eventbus.NewSupervisor(bus, srv.HandleEvent, eventbus.SupervisorConfig{
		MinBackoff: cfg.Bus.ReconnectMin,
		MaxBackoff: cfg.Bus.ReconnectMax,
	})
	hs := health.NewServer(cfg.GRPC.Addr)
	hs.Track(sup)

	// 5. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	middleware.Manager().Add("origin", middleware.Origin(cfg.HTTP.AllowedOrigins))
	r.Use(middleware.Recovery(), middleware.AccessLog(), middleware.Manager().Use())
	logger.Info("http middlewares", zap.Strings("managed", middleware.Manager().Names()))
	srv.Routes(r)
	chatapi.NewHandler(svc, midsec.Middleware(midsec.DefaultOptions(jwt)), sup).Routes(r)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return hs.Serve(gctx) })
	g.Go(func() error {
		// 订阅就绪前不接流量，否则本实例收不到广播
		select {
		case <-sup.Ready():
		case <-gctx.Done():
			return nil
		}
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		srv.Close()
		svc.Close()
		return err
	})
	return g.Wait()
}

func newBusDriver(cfg *global.AppConfig, rdb redis.UniversalClient) (eventbus.Driver, error) {
	switch cfg.Bus.Driver {
	case global.BusNats:
		return eventbus.NewNatsDriver(eventbus.NatsConfig{
			Servers:  cfg.Bus.NatsServers,
			Name:     "pchatgate-" + cfg.Node.ID,
			User:     cfg.Bus.NatsUser,
			Password: cfg.Bus.NatsPassword,
		})
	case global.BusMemory:
		logger.Warn("memory bus: events stay inside this process")
		return eventbus.NewMemoryDriver(1024), nil
	default:
		return eventbus.NewRedisDriver(rdb, 1024), nil
	}
}

func newNotifier(cfg *global.AppConfig, rdb redis.UniversalClient) (notify.Notifier, error) {
	switch cfg.Notify.Driver {
	case global.NotifyKafka:
		kc := notify.KafkaConfig{
			Brokers: cfg.Notify.KafkaBrokers,
			Topic:   cfg.Notify.KafkaTopic,
			Version: cfg.Notify.KafkaVersion,
		}
		if cfg.Notify.KafkaAutoCreate {
			err := notify.EnsureTopic(kc, notify.TopicSpec{
				Partitions:        cfg.Notify.KafkaPartitions,
				ReplicationFactor: cfg.Notify.KafkaReplication,
			})
			if err != nil {
				return nil, err
			}
		}
		return notify.NewKafkaNotifier(kc)
	case global.NotifyNone:
		return notify.Noop{}, nil
	default:
		return notify.NewRedisNotifier(rdb, notify.Channel), nil
	}
}
