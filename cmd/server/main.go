// Package main 是应用程序的入口点。
package main

import (
	"os"

	"synapse-go/internal/config"
	"synapse-go/pkg/database"
	"synapse-go/pkg/log"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "synapse",
		Short:        "Notebook RAG chatbot backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据库表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info("数据库迁移完成")
			return nil
		},
	})

	root.AddCommand(newIngestCmd(&configPath))
	return root
}

// setup 加载配置并初始化日志。
func setup(configPath string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	config.Conf = cfg
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}
