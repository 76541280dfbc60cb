package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"tg-guard/antispam"
	"tg-guard/api"
	"tg-guard/audit"
	"tg-guard/bot"
	"tg-guard/captcha"
	"tg-guard/config"
	"tg-guard/db"
	"tg-guard/lock"
	"tg-guard/moderation"
	"tg-guard/monitoring"
	"tg-guard/redis"
	"tg-guard/replies"
	"tg-guard/schedule"
	"tg-guard/welcome"
)

// cacheCleanupInterval как часто чистить кэши прав и настроек
const cacheCleanupInterval = time.Minute

// auditWorkers сколько записей аудита доставляется одновременно
const auditWorkers = 4

// shutdownTimeout время на доставку оставшихся записей аудита
const shutdownTimeout = 15 * time.Second

var logger = monitoring.GetLogger("main")

func main() {
	root := &cobra.Command{
		Use:           "tg-guard",
		Short:         "Telegram group moderation bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(*cobra.Command, []string) error {
				return migrate()
			},
		},
		&cobra.Command{
			Use:   "tail",
			Short: "Print audit events published to Redis",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return tail(cmd.Context())
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func migrate() error {
	cfgDB, err := config.LoadDBConfig()
	if err != nil {
		return err
	}
	conn, err := db.Connect(cfgDB)
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.InitSchema(conn)
}

func tail(ctx context.Context) error {
	cfgRedis, err := config.LoadRedisConfig()
	if err != nil {
		return err
	}
	sub, err := redis.NewSubscriber(cfgRedis)
	if err != nil {
		return err
	}
	defer sub.Close()

	return sub.Subscribe(ctx, func(ev redis.AuditEvent) error {
		_, err := fmt.Fprintf(os.Stdout, "%s %s\n", ev.At.Format(time.RFC3339), audit.Line(ev.ChatID, ev.Text))
		return err
	})
}

func serve(ctx context.Context) error {
	cfgDB, err := config.LoadDBConfig()
	if err != nil {
		return err
	}
	cfgTgBot, err := config.LoadTgBotConfig()
	if err != nil {
		return err
	}
	cfgRedis, err := config.LoadRedisConfig()
	if err != nil {
		return err
	}
	cfgModeration, err := config.LoadModerationConfig()
	if err != nil {
		return err
	}
	cfgHTTP, err := config.LoadHTTPConfig()
	if err != nil {
		return err
	}

	// База данных
	conn, err := db.Connect(cfgDB)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.InitSchema(conn); err != nil {
		return err
	}
	store := db.New(conn)

	// Telegram
	botAPI, err := tgbotapi.NewBotAPI(cfgTgBot.ApiKey)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}
	botAPI.Debug = cfgTgBot.Debug
	logger.Info("bot authorized", "username", botAPI.Self.UserName, "id", botAPI.Self.ID)
	clock := schedule.Real{}
	throttle := bot.NewThrottle(clock, cfgTgBot.GlobalSendInterval, cfgTgBot.ChatSendInterval)
	client := bot.NewClient(botAPI, nil).WithThrottle(throttle)

	// Аудит: лог-чат и, если включен, канал Redis
	sinks := audit.Multi{audit.NewTelegramSink(client, cfgTgBot.LogChatID)}
	checks := map[string]api.Pinger{"postgres": store}
	if cfgRedis.Enabled {
		publisher, err := redis.NewPublisher(cfgRedis)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		checks["redis"] = publisher
	}
	auditSink := audit.NewAsync("audit", sinks, auditWorkers, 10*time.Second)

	settings := bot.NewSettingsProvider(store, cfgModeration.SettingsCacheTTL)
	admins := bot.NewAdminResolver(client, cfgModeration.AdminCacheTTL, cfgTgBot.SuperAdminIDs)

	locks := lock.NewScheduler(store, clock, bot.NewLockNotifier(client, auditSink))
	restored, err := locks.Restore(ctx)
	if err != nil {
		logger.Error("failed to restore group locks", "error", err)
	} else {
		logger.Info("group locks restored", "count", restored)
	}

	limiter := antispam.NewLimiter(antispam.Config{
		Threshold: cfgModeration.SpamThreshold,
		Window:    cfgModeration.SpamWindow,
		Scope:     cfgModeration.SpamScope,
		Name:      "messages",
	})
	greeter := welcome.NewService(settings, store, client, clock, cfgModeration.WelcomeTTL)
	challenges := captcha.NewManager(captcha.Config{Timeout: cfgModeration.CaptchaTimeout}, client, greeter, auditSink, clock)

	pipeline := moderation.NewPipeline(moderation.Deps{
		Locks:      locks,
		Challenges: challenges,
		Spam:       limiter,
		Admins:     admins,
		Settings:   settings,
		Deleter:    client,
		Audit:      auditSink,
		Clock:      clock,
	})

	guard := bot.New(bot.Deps{
		Client:   client,
		Self:     botAPI.Self,
		Pipeline: pipeline,
		Captcha:  challenges,
		Locks:    locks,
		Welcome:  greeter,
		Replies:  replies.NewService(store),
		Settings: settings,
		Admins:   admins,
		Roles:    store,
		Audit:    auditSink,
		Clock:    clock,
		Workers:  cfgTgBot.Workers,
	})

	var wg conc.WaitGroup
	wg.Go(func() { limiter.Run(ctx) })
	wg.Go(func() { admins.RunCleanup(ctx, cacheCleanupInterval) })
	wg.Go(func() { settings.RunCleanup(ctx, cacheCleanupInterval) })
	wg.Go(func() { throttle.RunCleanup(ctx, cacheCleanupInterval) })

	if cfgHTTP.Enabled {
		server := api.NewServer(cfgHTTP, api.Deps{
			Checks: checks,
			Locks:  locks,
			Stats: func() api.StatsResponse {
				breakerState, breakerFailures := client.BreakerStatus()
				return api.StatsResponse{
					PendingChallenges: challenges.PendingCount(),
					ArmedLockTimers:   locks.ArmedTimers(),
					SpamWindows:       limiter.Tracked(),
					TelegramBreaker:   breakerState,
					TelegramFailures:  breakerFailures,
				}
			},
			Limiter: antispam.NewLimiter(antispam.Config{Threshold: 60, Window: time.Minute, Name: "http"}),
		})
		wg.Go(func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("HTTP server stopped", "error", err)
			}
		})
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfgTgBot.Timeout
	updates := botAPI.GetUpdatesChan(u)

	guard.Run(ctx, updates)
	botAPI.StopReceivingUpdates()
	logger.Info("shutting down")

	wg.Wait()

	done := make(chan struct{})
	go func() {
		auditSink.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("audit delivery did not finish before shutdown")
	}
	return nil
}
