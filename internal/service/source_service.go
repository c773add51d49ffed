package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/pkg/log"
	"synapse-go/pkg/tasks"

	"github.com/google/uuid"
)

const pdfContentType = "application/pdf"

var pdfMagic = []byte("%PDF")

// ObjectStore 是上传文件所在的对象存储，由 storage.ObjectStore 实现。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

// IngestionDispatcher 把入库任务交给处理方：inline 模式同步处理，kafka 模式投递到队列。
type IngestionDispatcher interface {
	Dispatch(ctx context.Context, task tasks.SourceIngestionTask) error
}

// UploadFile 是一次上传的文件内容及其元信息。
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DownloadInfo 封装了文件下载链接所需的信息。
type DownloadInfo struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// SourceService 定义了笔记本来源（PDF）的管理操作。
type SourceService interface {
	Upload(ctx context.Context, userID, notebookID uint, file UploadFile) (*model.Source, error)
	List(ctx context.Context, userID, notebookID uint) ([]model.Source, error)
	Delete(ctx context.Context, userID, notebookID, sourceID uint) error
	DownloadURL(ctx context.Context, userID, notebookID, sourceID uint) (*DownloadInfo, error)
}

type sourceService struct {
	notebookRepo repository.NotebookRepository
	sourceRepo   repository.SourceRepository
	objects      ObjectStore
	dispatcher   IngestionDispatcher
	index        VectorIndex
	maxFileSize  int64
}

// NewSourceService 创建一个新的 SourceService 实例。maxFileSize 为 0 表示不限制大小。
func NewSourceService(
	notebookRepo repository.NotebookRepository,
	sourceRepo repository.SourceRepository,
	objects ObjectStore,
	dispatcher IngestionDispatcher,
	index VectorIndex,
	maxFileSize int64,
) SourceService {
	return &sourceService{
		notebookRepo: notebookRepo,
		sourceRepo:   sourceRepo,
		objects:      objects,
		dispatcher:   dispatcher,
		index:        index,
		maxFileSize:  maxFileSize,
	}
}

// ObjectKey 返回来源文件在对象存储中的 key。
func ObjectKey(notebookID uint) string {
	return fmt.Sprintf("notebooks/%d/%s.pdf", notebookID, uuid.NewString())
}

// Upload 保存文件、创建 pending 状态的来源记录并分发入库任务。
// 分发失败时来源记录、文件和已写入的分块都会被清理，错误原样返回。
func (s *sourceService) Upload(ctx context.Context, userID, notebookID uint, file UploadFile) (*model.Source, error) {
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}
	if s.maxFileSize > 0 && file.Size > s.maxFileSize {
		return nil, fmt.Errorf("%w: file is larger than %d bytes", model.ErrInvalidRequest, s.maxFileSize)
	}
	body, err := checkPDF(file)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(nb.ID)
	if err := s.objects.Put(ctx, key, body, file.Size, pdfContentType); err != nil {
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}

	src := &model.Source{
		NotebookID: nb.ID,
		Title:      displayName(file.Name),
		FilePath:   key,
		FileSize:   file.Size,
		Status:     model.SourceStatusPending,
	}
	if err := s.sourceRepo.Create(ctx, src); err != nil {
		s.removeObject(ctx, key)
		return nil, fmt.Errorf("创建来源记录失败: %w", err)
	}
	log.Infof("[SourceService] 来源已上传, notebook: %d, source: %d, key: %s", nb.ID, src.ID, key)

	task := tasks.SourceIngestionTask{
		SourceID:   src.ID,
		NotebookID: nb.ID,
		ObjectKey:  key,
		FileName:   src.Title,
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Warnf("[SourceService] 入库失败，清理来源 %d: %v", src.ID, err)
		s.discard(ctx, src)
		return nil, err
	}

	// inline 模式下状态已经变为 ready
	current, err := s.sourceRepo.FindInNotebook(ctx, nb.ID, src.ID)
	if err != nil {
		return src, nil
	}
	return current, nil
}

// checkPDF 接受 application/pdf 或 .pdf 后缀的文件，并要求内容以 %PDF 开头。
func checkPDF(file UploadFile) (io.Reader, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(file.ContentType, ";", 2)[0]))
	if ct != pdfContentType && !strings.EqualFold(filepath.Ext(file.Name), ".pdf") {
		return nil, model.ErrUnsupportedFile
	}
	if file.Body == nil {
		return nil, model.ErrUnsupportedFile
	}
	br := bufio.NewReader(file.Body)
	head, err := br.Peek(len(pdfMagic))
	if err != nil || !bytes.Equal(head, pdfMagic) {
		return nil, model.ErrUnsupportedFile
	}
	return br, nil
}

func displayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}

func (s *sourceService) List(ctx context.Context, userID, notebookID uint) ([]model.Source, error) {
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}
	sources, err := s.sourceRepo.ListByNotebook(ctx, nb.ID)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []model.Source{}
	}
	return sources, nil
}

// Delete 先删除向量库中的分块，成功后再删除记录和文件。
func (s *sourceService) Delete(ctx context.Context, userID, notebookID, sourceID uint) error {
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return err
	}
	src, err := s.sourceRepo.FindInNotebook(ctx, nb.ID, sourceID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteSource(ctx, nb.ID, src.ID); err != nil {
		return fmt.Errorf("%w: %w", model.ErrRetrievalUnavailable, err)
	}
	if err := s.sourceRepo.Delete(ctx, src.ID); err != nil {
		return err
	}
	s.removeObject(ctx, src.FilePath)
	log.Infof("[SourceService] 删除来源, notebook: %d, source: %d", nb.ID, src.ID)
	return nil
}

func (s *sourceService) DownloadURL(ctx context.Context, userID, notebookID, sourceID uint) (*DownloadInfo, error) {
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}
	src, err := s.sourceRepo.FindInNotebook(ctx, nb.ID, sourceID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedURL(ctx, src.FilePath)
	if err != nil {
		return nil, fmt.Errorf("生成下载链接失败: %w", err)
	}
	return &DownloadInfo{FileName: src.Title, DownloadURL: url, FileSize: src.FileSize}, nil
}

// discard 清理一次失败的上传，每一步失败都只记录日志。
func (s *sourceService) discard(ctx context.Context, src *model.Source) {
	if err := s.index.DeleteSource(ctx, src.NotebookID, src.ID); err != nil {
		log.Errorf("[SourceService] 清理分块失败, source: %d, error: %v", src.ID, err)
	}
	if err := s.sourceRepo.Delete(ctx, src.ID); err != nil {
		log.Errorf("[SourceService] 删除来源记录失败, source: %d, error: %v", src.ID, err)
	}
	s.removeObject(ctx, src.FilePath)
}

func (s *sourceService) removeObject(ctx context.Context, key string) {
	if err := s.objects.Remove(ctx, key); err != nil {
		log.Errorf("[SourceService] 删除文件失败, key: %s, error: %v", key, err)
	}
}
