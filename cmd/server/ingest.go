package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/spf13/cobra"
)

func newIngestCmd(configPath *string) *cobra.Command {
	var (
		email      string
		notebookID uint
	)
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "把目录下的 PDF 导入到指定笔记本",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			user, err := a.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
			if err != nil {
				return fmt.Errorf("查找用户 %s 失败: %w", email, err)
			}
			imported, err := importDir(ctx, args[0], user.ID, notebookID, a.sourceService)
			if err != nil {
				return err
			}
			log.Infof("ingest: 共导入 %d 个文件", imported)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "笔记本所有者的邮箱")
	cmd.Flags().UintVar(&notebookID, "notebook", 0, "目标笔记本 ID")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("notebook")
	return cmd
}

// importDir 扫描目录下的 PDF 并按正常上传流程导入。同名来源已存在时跳过，可重复执行。
// 单个文件失败只记录日志，不中断其余文件。
func importDir(ctx context.Context, dir string, userID, notebookID uint, sources service.SourceService) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s 不是目录", dir)
	}

	existing, err := sources.List(ctx, userID, notebookID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s.Title] = true
	}

	imported := 0
	walkErr := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		name := fi.Name()
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			return nil
		}
		if seen[name] {
			log.Infof("ingest: 已存在，跳过: %s", name)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("ingest: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		src, err := sources.Upload(ctx, userID, notebookID, service.UploadFile{
			Name:        name,
			ContentType: "application/pdf",
			Size:        fi.Size(),
			Body:        f,
		})
		if err != nil {
			log.Warnf("ingest: 导入失败: %s, err=%v", name, err)
			return nil
		}
		seen[name] = true
		imported++
		log.Infof("ingest: 已导入 %s (source %d, status %s)", name, src.ID, src.Status)
		return nil
	})
	return imported, walkErr
}
