package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gcottom/go-zaplog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mediakeep/mediakeep/internal/services/continuous"
	"github.com/mediakeep/mediakeep/internal/services/downloader"
	"github.com/mediakeep/mediakeep/internal/services/manager"
	"github.com/mediakeep/mediakeep/internal/services/subscription"
	"github.com/mediakeep/mediakeep/internal/storage"
	"go.uber.org/zap"
)

type Handlers struct {
	Manager       *manager.Service
	Continuous    *continuous.Service
	Subscriptions *subscription.Service
	Store         *storage.Store
	Downloaders   map[string]downloader.Downloader
}

func SetupRoutes(router *gin.Engine, h *Handlers) {
	api := router.Group("/api")

	api.POST("/downloads", h.StartDownload)
	api.POST("/downloads/collection", h.StartCollectionDownload)
	api.GET("/downloads/status", h.GetDownloadStatus)
	api.GET("/downloads/history", h.GetDownloadHistory)
	api.POST("/downloads/:id/cancel", h.CancelDownload)
	api.PUT("/downloads/:id/title", h.UpdateDownloadTitle)
	api.PUT("/settings/concurrency", h.SetConcurrency)

	api.GET("/subscriptions", h.GetSubscriptions)
	api.POST("/subscriptions", h.Subscribe)
	api.DELETE("/subscriptions/:id", h.Unsubscribe)
	api.POST("/subscriptions/:id/check", h.CheckSubscriptionNow)

	api.GET("/tasks", h.GetContinuousTasks)
	api.POST("/tasks", h.CreateContinuousTask)
	api.GET("/tasks/:id", h.GetContinuousTask)
	api.POST("/tasks/:id/pause", h.PauseContinuousTask)
	api.POST("/tasks/:id/resume", h.ResumeContinuousTask)
	api.POST("/tasks/:id/cancel", h.CancelContinuousTask)
	api.DELETE("/tasks/:id", h.DeleteContinuousTask)
	api.POST("/tasks/clear-completed", h.ClearCompletedTasks)

	api.GET("/search", h.Search)
	api.GET("/check-parts", h.CheckParts)
}

type startDownloadRequest struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	MultiPart bool   `json:"multi_part"`
}

func (h *Handlers) StartDownload(ctx *gin.Context) {
	var req startDownloadRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.URL == "" {
		zaplog.WarnC(ctx, "download request without url present: url is required")
		ResponseFailure(ctx, errors.New("download request without url present: url is required"))
		return
	}
	platform := downloader.DetectPlatform(req.URL)
	dl, ok := h.Downloaders[platform]
	if !ok {
		ResponseFailure(ctx, errors.New("unsupported platform: "+platform))
		return
	}
	zaplog.InfoC(ctx, "download request received",
		zap.String("url", req.URL), zap.String("platform", platform))

	downloadID := uuid.NewString()
	url := req.URL
	multiPart := req.MultiPart
	work := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		opts := downloader.Opts{DownloadID: downloadID, OnStart: registerCancel}
		if multiPart {
			bd, ok := dl.(*downloader.BilibiliDownloader)
			if !ok {
				return nil, errors.New("multi-part downloads are only supported for bilibili urls")
			}
			return bd.DownloadMultiPart(ctx, url, opts)
		}
		return dl.DownloadVideo(ctx, url, opts)
	}
	title := req.Title
	if title == "" {
		title = url
	}
	// Work outlives the request; it must not run on the request context.
	h.Manager.AddDownload(context.Background(), work, downloadID, title, url, platform)
	ResponseSuccess(ctx, DownloadStartedResponse{ID: downloadID, State: "ACK"})
}

type collectionDownloadRequest struct {
	Mid      int64  `json:"mid"`
	SeasonID int64  `json:"season_id"`
	Title    string `json:"title"`
}

// StartCollectionDownload queues a whole bilibili season/collection as one
// task; per-item failures inside it are tolerated.
func (h *Handlers) StartCollectionDownload(ctx *gin.Context) {
	var req collectionDownloadRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Mid == 0 || req.SeasonID == 0 {
		ResponseFailure(ctx, errors.New("collection request without ids present: mid and season_id are required"))
		return
	}
	bd, ok := h.Downloaders[downloader.PlatformBilibili].(*downloader.BilibiliDownloader)
	if !ok {
		ResponseFailure(ctx, errors.New("collection downloads are only supported for bilibili"))
		return
	}
	zaplog.InfoC(ctx, "collection download request received",
		zap.Int64("mid", req.Mid), zap.Int64("season_id", req.SeasonID))

	downloadID := uuid.NewString()
	mid, seasonID := req.Mid, req.SeasonID
	work := func(ctx context.Context, registerCancel func(cancel func())) (*downloader.DownloadResult, error) {
		return bd.DownloadCollection(ctx, mid, seasonID, downloader.Opts{DownloadID: downloadID, OnStart: registerCancel})
	}
	title := req.Title
	if title == "" {
		title = "Collection " + strconv.FormatInt(seasonID, 10)
	}
	sourceURL := "https://space.bilibili.com/" + strconv.FormatInt(mid, 10) +
		"/lists/" + strconv.FormatInt(seasonID, 10)
	// Work outlives the request; it must not run on the request context.
	h.Manager.AddDownload(context.Background(), work, downloadID, title, sourceURL, downloader.PlatformBilibili)
	ResponseSuccess(ctx, DownloadStartedResponse{ID: downloadID, State: "ACK"})
}

func (h *Handlers) GetDownloadStatus(ctx *gin.Context) {
	status, err := h.Store.GetDownloadStatus(ctx)
	if err != nil {
		zaplog.ErrorC(ctx, "error getting download status", zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, status)
}

func (h *Handlers) GetDownloadHistory(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "100"))
	history, err := h.Store.GetDownloadHistory(ctx, limit)
	if err != nil {
		zaplog.ErrorC(ctx, "error getting download history", zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, history)
}

func (h *Handlers) CancelDownload(ctx *gin.Context) {
	id := ctx.Param("id")
	zaplog.InfoC(ctx, "cancel download request received", zap.String("id", id))
	if err := h.Manager.CancelDownload(ctx, id); err != nil {
		zaplog.ErrorC(ctx, "error cancelling download", zap.String("id", id), zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) UpdateDownloadTitle(ctx *gin.Context) {
	id := ctx.Param("id")
	var req updateTitleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Title == "" {
		ResponseFailure(ctx, errors.New("title is required"))
		return
	}
	if err := h.Manager.UpdateTaskTitle(ctx, id, req.Title); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

type concurrencyRequest struct {
	MaxConcurrentDownloads int `json:"max_concurrent_downloads"`
}

func (h *Handlers) SetConcurrency(ctx *gin.Context) {
	var req concurrencyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ResponseFailure(ctx, errors.New("max_concurrent_downloads is required"))
		return
	}
	if err := h.Manager.SetMaxConcurrentDownloads(ctx, req.MaxConcurrentDownloads); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) GetSubscriptions(ctx *gin.Context) {
	subs, err := h.Subscriptions.GetSubscriptions(ctx)
	if err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, subs)
}

type subscribeRequest struct {
	URL      string `json:"url"`
	Interval int    `json:"interval"`
}

func (h *Handlers) Subscribe(ctx *gin.Context) {
	var req subscribeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.URL == "" {
		ResponseFailure(ctx, errors.New("subscribe request without url present: url is required"))
		return
	}
	sub, err := h.Subscriptions.Subscribe(ctx, req.URL, req.Interval)
	if err != nil {
		zaplog.ErrorC(ctx, "error creating subscription", zap.String("url", req.URL), zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, sub)
}

func (h *Handlers) Unsubscribe(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.Subscriptions.Unsubscribe(ctx, id); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) CheckSubscriptionNow(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := h.Subscriptions.CheckNow(ctx, id); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) GetContinuousTasks(ctx *gin.Context) {
	tasks, err := h.Continuous.GetTasks(ctx)
	if err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, tasks)
}

type createTaskRequest struct {
	AuthorURL      string `json:"author_url"`
	Author         string `json:"author"`
	Platform       string `json:"platform"`
	SubscriptionID string `json:"subscription_id"`
}

func (h *Handlers) CreateContinuousTask(ctx *gin.Context) {
	var req createTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.AuthorURL == "" {
		ResponseFailure(ctx, errors.New("task request without author_url present: author_url is required"))
		return
	}
	task, err := h.Continuous.CreateTask(ctx, req.AuthorURL, req.Author, req.Platform, req.SubscriptionID)
	if err != nil {
		zaplog.ErrorC(ctx, "error creating continuous task", zap.String("author_url", req.AuthorURL), zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, task)
}

func (h *Handlers) GetContinuousTask(ctx *gin.Context) {
	task, err := h.Continuous.GetTask(ctx, ctx.Param("id"))
	if err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, task)
}

func (h *Handlers) PauseContinuousTask(ctx *gin.Context) {
	if err := h.Continuous.PauseTask(ctx, ctx.Param("id")); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) ResumeContinuousTask(ctx *gin.Context) {
	if err := h.Continuous.ResumeTask(ctx, ctx.Param("id")); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) CancelContinuousTask(ctx *gin.Context) {
	if err := h.Continuous.CancelTask(ctx, ctx.Param("id")); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) DeleteContinuousTask(ctx *gin.Context) {
	if err := h.Continuous.DeleteTask(ctx, ctx.Param("id")); err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *Handlers) ClearCompletedTasks(ctx *gin.Context) {
	removed, err := h.Continuous.ClearCompleted(ctx)
	if err != nil {
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, ClearedResponse{Removed: removed})
}

func (h *Handlers) Search(ctx *gin.Context) {
	query := ctx.Query("q")
	if query == "" {
		ResponseFailure(ctx, errors.New("search request without query present: q is required"))
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))

	platform := ctx.DefaultQuery("platform", downloader.PlatformYouTube)
	searcher, ok := h.Downloaders[platform].(downloader.Searcher)
	if !ok {
		ResponseFailure(ctx, errors.New("platform does not support search: "+platform))
		return
	}
	results, err := searcher.Search(ctx, query, limit, offset)
	if err != nil {
		zaplog.ErrorC(ctx, "error searching", zap.String("query", query), zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, results)
}

func (h *Handlers) CheckParts(ctx *gin.Context) {
	url := ctx.Query("url")
	if url == "" {
		ResponseFailure(ctx, errors.New("check parts request without url present: url is required"))
		return
	}
	bd, ok := h.Downloaders[downloader.PlatformBilibili].(*downloader.BilibiliDownloader)
	if !ok {
		ResponseFailure(ctx, errors.New("part checking is only supported for bilibili urls"))
		return
	}
	parts, err := bd.CheckParts(ctx, url)
	if err != nil {
		zaplog.ErrorC(ctx, "error checking parts", zap.String("url", url), zap.Error(err))
		ResponseError(ctx, err)
		return
	}
	ResponseSuccess(ctx, PartsResponse{Parts: parts})
}
