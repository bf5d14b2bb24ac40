package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lorawan-server/lora-pkt-fwd/internal/api"
	"github.com/lorawan-server/lora-pkt-fwd/internal/config"
	"github.com/lorawan-server/lora-pkt-fwd/internal/forwarder"
	"github.com/lorawan-server/lora-pkt-fwd/internal/integration"
	"github.com/lorawan-server/lora-pkt-fwd/internal/radio"
	"github.com/lorawan-server/lora-pkt-fwd/internal/storage"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/crypto"
)

const auditBuffer = 256

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/pkt-forwarder.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	var hashPassword = flag.String("hash-password", "", "输出 api.admin_password_hash 所需的 bcrypt 哈希并退出")
	var genSecret = flag.Bool("gen-secret", false, "生成随机 jwt.secret 并退出")
	flag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *hashPassword != "" {
		hash, err := crypto.HashPassword(*hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("生成密码哈希失败")
		}
		fmt.Println(hash)
		return
	}
	if *genSecret {
		secret, err := crypto.GenerateSecret(crypto.MinSecretBytes)
		if err != nil {
			log.Fatal().Err(err).Msg("生成密钥失败")
		}
		fmt.Println(secret)
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	setupLogging(cfg.Log)

	// 如果只是显示配置，打印后退出
	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("配置文件验证失败")
	}

	// 如果只是验证配置，打印摘要后退出
	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("✅ 配置文件验证通过")
		return
	}

	if err := run(cfg); err != nil {
		if errors.Is(err, forwarder.ErrAutoQuit) {
			log.Error().Int("threshold", cfg.Server.AutoquitThreshold).Msg("PULL_ACK 连续丢失，退出")
		} else {
			log.Error().Err(err).Msg("Packet forwarder 异常退出")
		}
		os.Exit(1)
	}

	log.Info().Msg("Packet forwarder 已关闭")
}

// setupLogging 设置日志级别和输出格式
func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		log.Warn().Str("level", c.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func openDriver(c config.RadioConfig) (radio.Driver, error) {
	switch c.Driver {
	case "rylr896":
		return radio.OpenRYLR896(c.Device, c.BaudRate)
	default:
		log.Warn().Msg("使用 stub 射频驱动，不会收发任何空口数据")
		return radio.NewStubDriver(), nil
	}
}

func openStore(ctx context.Context, c config.DatabaseConfig) (storage.Store, error) {
	if c.DSN == "" {
		log.Info().Msg("未配置数据库，记录保存在内存中")
		return storage.NewMemoryStore(500), nil
	}
	return storage.NewPostgresStore(ctx, c.DSN, storage.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	})
}

func connectNATS(c config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.ReconnectWait(c.ReconnectInterval),
		nats.MaxReconnects(c.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS 连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS 已重连")
		}),
	}
	if c.ClientID != "" {
		opts = append(opts, nats.Name(c.ClientID))
	}
	if c.Username != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return nats.Connect(c.URL, opts...)
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("收到退出信号，正在关闭...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fwdCfg, err := forwarder.NewConfig(cfg)
	if err != nil {
		return err
	}

	drv, err := openDriver(cfg.Radio)
	if err != nil {
		return fmt.Errorf("open radio: %w", err)
	}
	defer drv.Close()
	arb := radio.NewArbitrator(drv, fwdCfg.Channel)

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	audit := storage.NewRecorder(store, auditBuffer)
	recorders := forwarder.MultiRecorder{audit}
	gatewayID := fwdCfg.GatewayEUI.String()

	var natsInt *integration.NATS
	if cfg.NATS.URL != "" {
		nc, err := connectNATS(cfg.NATS)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nc.Close()
		natsInt = integration.NewNATS(nc, gatewayID)
		recorders = append(recorders, natsInt)
	}

	var mqttInt *integration.MQTT
	if cfg.MQTT.Broker != "" {
		mqttInt, err = integration.NewMQTT(integration.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, gatewayID)
		if err != nil {
			return fmt.Errorf("connect MQTT: %w", err)
		}
		recorders = append(recorders, mqttInt)
	}

	if cfg.Webhook.URL != "" {
		recorders = append(recorders, integration.NewWebhook(integration.HTTPConfig{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.Webhook.Timeout,
			Headers: cfg.Webhook.Headers,
		}, gatewayID))
	}

	fwd := forwarder.New(fwdCfg, arb, radio.NewMonotonicClock(), recorders)

	log.Info().
		Str("gateway_id", gatewayID).
		Str("server", cfg.Server.Address).
		Str("driver", cfg.Radio.Driver).
		Int("recorders", len(recorders)).
		Msg("Packet forwarder 启动")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return audit.Run(gctx) })

	g.Go(func() error {
		// 转发器退出时停止其余协程
		defer cancel()
		return fwd.Run(gctx)
	})

	if natsInt != nil {
		g.Go(func() error { return natsInt.Run(gctx, fwd) })
	}
	if mqttInt != nil {
		g.Go(func() error { return mqttInt.Run(gctx, fwd) })
	}

	if cfg.API.Enabled {
		srv := api.NewRESTServer(cfg, fwd, store)
		addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
		g.Go(func() error { return srv.Run(gctx, addr) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
