package main

import (
	"context"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/qgin/qgin"
	"github.com/gin-contrib/cors"
	"github.com/joho/godotenv"
	"github.com/mediakeep/mediakeep/config"
	"github.com/mediakeep/mediakeep/internal"
	"github.com/mediakeep/mediakeep/internal/handlers"
	"github.com/mediakeep/mediakeep/internal/mirror"
	"github.com/mediakeep/mediakeep/internal/services/continuous"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/services/manager"
	"github.com/mediakeep/mediakeep/internal/services/subscription"
	"github.com/mediakeep/mediakeep/internal/storage"
	"github.com/mediakeep/mediakeep/pkg/bilibili"
	"github.com/mediakeep/mediakeep/pkg/browser"
	"github.com/mediakeep/mediakeep/pkg/ytdlp"
	"go.uber.org/zap"
)

const subscriptionCheckInterval = time.Minute

func init() {
	c := color.New(color.FgCyan)
	c.Print(`
:::   :::  :::::::: ::::::::: ::::::::::: ::::::::  :::   ::: :::::::::: :::::::::: :::::::::
:+:+:+:+: :+:       :+:    :+:    :+:    :+:    :+: :+:  :+:  :+:        :+:        :+:    :+:
+:+ + +:+ +:+       +:+    +:+    +:+    +:+    +:+ +:+ +:+   +:+        +:+        +:+    +:+
+#+  +#+  +#++:++#  +#+    +:+    +#+    +#++:++#++ +#++:++   +#++:++#   +#++:++#   +#++:++#+
+#+       +#+       +#+    +#+    +#+    +#+    +#+ +#+ +#+   +#+        +#+        +#+
#+#       #+#       #+#    #+#    #+#    #+#    #+# #+#  #+#  #+#        #+#        #+#
###       ######### ######### ########## ########  ###   ### ########## ########## ###
|--------------------------------------------------------------------------------------------|
|                          MediaKeep Archiving Server v1.0.0                                  |
|--------------------------------------------------------------------------------------------|
   `)
}

func main() {
	if err := RunServer(); err != nil {
		panic(err)
	}
}

func RunServer() error {
	ctx := zaplog.CreateAndInject(context.Background())
	zaplog.InfoC(ctx, "starting archiving server...")

	if err := godotenv.Load(); err != nil {
		zaplog.InfoC(ctx, "no .env file found, continuing with environment as-is")
	}

	cfg, err := config.LoadConfigFromFile("")
	if err != nil {
		zaplog.WarnC(ctx, "failed to load config file, using defaults", zap.Error(err))
		cfg = config.LoadDefaults()
	}
	for _, dir := range []string{cfg.SaveDir, cfg.TempDir, cfg.ThumbnailDir, cfg.SubtitleDir} {
		if err := internal.EnsureDir(dir); err != nil {
			zaplog.ErrorC(ctx, "failed to create media directory", zap.String("dir", dir), zap.Error(err))
			return err
		}
	}

	zaplog.InfoC(ctx, "opening database...", zap.String("path", cfg.DBPath))
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to open database", zap.Error(err))
		return err
	}

	zaplog.InfoC(ctx, "creating platform downloaders...")
	ytdlpClient := ytdlp.NewClient(cfg.YTDLPPath, cfg.Proxy)
	bilibiliAPI := bilibili.NewClient(cfg.BilibiliCookie)
	launcher := &browser.Launcher{ExecPath: cfg.BrowserExecPath}

	downloaders := map[string]downloader.Downloader{
		downloader.PlatformYouTube:  downloader.NewYouTubeDownloader(store, ytdlpClient, cfg),
		downloader.PlatformBilibili: downloader.NewBilibiliDownloader(store, bilibiliAPI, ytdlpClient, cfg),
		downloader.PlatformMissAV:   downloader.NewMissAVDownloader(store, launcher, ytdlpClient, cfg),
	}

	zaplog.InfoC(ctx, "creating download manager...")
	workFactory := func(item storage.QueuedDownload) (manager.WorkFn, error) {
		dl, ok := downloaders[item.Type]
		if !ok {
			dl = downloaders[downloader.PlatformYouTube]
		}
		id, url := item.ID, item.SourceURL
		return func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
			return dl.DownloadVideo(ctx, url, downloader.Opts{DownloadID: id, OnStart: registerCancel})
		}, nil
	}
	managerService := manager.NewService(store, workFactory, cfg.MaxConcurrentDownloads)
	s3Mirror, err := mirror.NewS3Mirror(cfg.MirrorBucket, cfg.MirrorRegion)
	if err != nil {
		zaplog.WarnC(ctx, "mirror disabled", zap.Error(err))
	} else if s3Mirror != nil {
		managerService.Mirror = s3Mirror
	}
	managerService.Initialize(ctx)

	zaplog.InfoC(ctx, "creating continuous download service...")
	continuousService := continuous.NewService(store, managerService, downloaders)

	zaplog.InfoC(ctx, "creating subscription service...")
	subscriptionService := subscription.NewService(store, managerService, downloaders)

	zaplog.InfoC(ctx, "creating gin engine...")
	ginws := qgin.NewGinEngine(&ctx, &qgin.Config{
		UseContextMW:       true,
		UseLoggingMW:       true,
		UseRequestIDMW:     false,
		InjectRequestIDCTX: false,
		LogRequestID:       false,
		ProdMode:           true,
	})
	ginws.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	zaplog.InfoC(ctx, "setting up routes...")
	handlers.SetupRoutes(ginws, &handlers.Handlers{
		Manager:       managerService,
		Continuous:    continuousService,
		Subscriptions: subscriptionService,
		Store:         store,
		Downloaders:   downloaders,
	})

	zaplog.InfoC(ctx, "starting subscription check loop...")
	go subscriptionCheckLoop(ctx, subscriptionService)

	zaplog.InfoC(ctx, "setup complete, starting server...")
	zaplog.InfoC(ctx, "now listening and serving!", zap.String("addr", cfg.ListenAddr))
	return http.ListenAndServe(cfg.ListenAddr, ginws)
}

func subscriptionCheckLoop(ctx context.Context, svc *subscription.Service) {
	for {
		time.Sleep(subscriptionCheckInterval)
		svc.CheckSubscriptions(ctx)
	}
}
