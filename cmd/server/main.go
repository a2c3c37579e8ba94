// Package main 是应用程序的入口点。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"docqa-go/internal/config"
	"docqa-go/internal/handler"
	"docqa-go/internal/middleware"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "document question answering service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to config.yaml")

	setup := func() (config.Config, error) {
		// 1. 初始化配置
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		// 2. 初始化日志记录器
		if err := log.Init(cfg.Log); err != nil {
			return config.Config{}, err
		}
		log.Info("日志记录器初始化成功")
		return cfg, nil
	}

	rootCmd.AddCommand(newServeCmd(setup), newIngestCmd(setup), newAskCmd(setup))
	return rootCmd
}

type setupFunc func() (config.Config, error)

func newServeCmd(setup setupFunc) *cobra.Command {
	var seedDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			return runServer(cfg, seedDir)
		},
	}
	cmd.Flags().StringVar(&seedDir, "seed-dir", "", "directory ingested in the background at startup")
	return cmd
}

func runServer(cfg config.Config, seedDir string) error {
	app, err := service.NewApp(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("关闭服务依赖失败", err)
		}
	}()

	// 启动时导入种子目录，重名文件跳过
	seedCtx, cancelSeed := context.WithCancel(context.Background())
	defer cancelSeed()
	if seedDir != "" {
		go func() {
			for _, o := range app.IngestPaths(seedCtx, []string{seedDir}, service.DuplicateReject) {
				if o.Err != nil {
					log.Warnf("seed: 导入 %s 跳过: %v", o.Path, o.Err)
					continue
				}
				log.Infof("seed: 导入 %s 完成, 状态: %s", o.Path, o.Result.Status)
			}
		}()
	}

	// 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	// gzip 在日志中间件之前注册，日志记录的是未压缩的响应体
	r.Use(gzip.Gzip(gzip.DefaultCompression), middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r, app)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-quit:
	}
	log.Info("接收到停机信号，正在关闭服务...")
	cancelSeed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}

func newIngestCmd(setup setupFunc) *cobra.Command {
	var onDuplicate string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "ingest local files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := service.ParseDuplicateMode(onDuplicate)
			if err != nil {
				return err
			}
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			app, err := service.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			failed := 0
			out := cmd.OutOrStdout()
			for _, o := range app.IngestPaths(cmd.Context(), args, mode) {
				switch {
				case o.Err != nil:
					failed++
					fmt.Fprintf(out, "FAIL  %s: %v\n", o.Path, o.Err)
				case o.Result.Status != service.UploadSuccess:
					failed++
					fmt.Fprintf(out, "FAIL  %s: %s\n", o.Path, o.Result.Error)
				default:
					fmt.Fprintf(out, "OK    %s (%s, %d chunks)\n", o.Path, o.Result.DocumentID, o.Result.ChunksProcessed)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed to ingest", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&onDuplicate, "on-duplicate", "append", "append, reject or replace")
	return cmd
}

func newAskCmd(setup setupFunc) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a question against the restored index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			app, err := service.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Answer)
			for i, src := range res.SourceDocuments {
				if src.Page != nil {
					fmt.Fprintf(out, "[%d] %s (p.%d): %s\n", i+1, src.DocumentName, *src.Page, src.Content)
				} else {
					fmt.Fprintf(out, "[%d] %s: %s\n", i+1, src.DocumentName, src.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON result")
	return cmd
}
