// Package pipeline 定义了来源入库的核心流程：读取 PDF、解析页面、分段、写入向量库。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/internal/retrieval"
	"synapse-go/pkg/kafka"
	"synapse-go/pkg/log"
	"synapse-go/pkg/tasks"
	"synapse-go/pkg/tika"
)

// ObjectReader 读取对象存储中的文件，由 storage.ObjectStore 实现。
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// PageLoader 把文档解析为按页的文本，由 tika.Client 实现。
type PageLoader interface {
	ExtractPages(ctx context.Context, r io.Reader, fileName string) ([]tika.Page, error)
}

// Indexer 写入或删除来源的分块，由 retrieval.Gateway 实现。
type Indexer interface {
	Ingest(ctx context.Context, notebookID uint, chunks []retrieval.Chunk) error
	DeleteSource(ctx context.Context, notebookID, sourceID uint) error
}

// Processor 封装了来源入库的所有依赖和逻辑。
type Processor struct {
	objects    ObjectReader
	loader     PageLoader
	segmenter  *Segmenter
	indexer    Indexer
	sourceRepo repository.SourceRepository
}

var _ kafka.TaskProcessor = (*Processor)(nil)

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(objects ObjectReader, loader PageLoader, segmenter *Segmenter, indexer Indexer, sourceRepo repository.SourceRepository) *Processor {
	return &Processor{
		objects:    objects,
		loader:     loader,
		segmenter:  segmenter,
		indexer:    indexer,
		sourceRepo: sourceRepo,
	}
}

// Process 处理一次入库任务，成功后来源状态变为 ready。
// 失败时已写入的分块会被删除；文档不可读的错误用 kafka.Permanent 包装，不会重试。
func (p *Processor) Process(ctx context.Context, task tasks.SourceIngestionTask) error {
	log.Infof("[Processor] 开始处理来源, source: %d, notebook: %d, file: %s", task.SourceID, task.NotebookID, task.FileName)

	count, err := p.ingest(ctx, task)
	if err != nil {
		if cleanupErr := p.indexer.DeleteSource(ctx, task.NotebookID, task.SourceID); cleanupErr != nil {
			log.Warnf("[Processor] 清理来源 %d 的分块失败: %v", task.SourceID, cleanupErr)
		}
		if errors.Is(err, model.ErrUnreadableDocument) {
			return kafka.Permanent(err)
		}
		return err
	}

	if err := p.sourceRepo.UpdateStatus(ctx, task.SourceID, model.SourceStatusReady, ""); err != nil {
		return fmt.Errorf("更新来源状态失败: %w", err)
	}
	log.Infof("[Processor] 来源处理完成, source: %d, chunks: %d", task.SourceID, count)
	return nil
}

func (p *Processor) ingest(ctx context.Context, task tasks.SourceIngestionTask) (int, error) {
	// 1. 从对象存储读取文件
	object, err := p.objects.Get(ctx, task.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("读取文件失败: %w", err)
	}
	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	object.Close()
	if err != nil {
		return 0, fmt.Errorf("读取文件失败: %w", err)
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: 文件 '%s' 内容为空", model.ErrUnreadableDocument, task.FileName)
	}

	// 2. 解析页面
	extracted, err := p.loader.ExtractPages(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		return 0, err
	}
	pages := make([]Page, 0, len(extracted))
	for _, pg := range extracted {
		pages = append(pages, Page{Number: pg.Number, Text: pg.Text})
	}

	// 3. 分段
	chunks, err := p.segmenter.Segment(pages, task.NotebookID, task.SourceID)
	if err != nil {
		return 0, err
	}
	log.Infof("[Processor] 来源 %d 共 %d 页, 生成 %d 个分块", task.SourceID, len(pages), len(chunks))

	// 4. 向量化并写入
	if err := p.indexer.Ingest(ctx, task.NotebookID, chunks); err != nil {
		return 0, fmt.Errorf("写入向量库失败: %w", err)
	}
	return len(chunks), nil
}

// GiveUp 把来源标记为失败并记录原因。
func (p *Processor) GiveUp(ctx context.Context, task tasks.SourceIngestionTask, cause error) {
	msg := "ingestion failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.sourceRepo.UpdateStatus(ctx, task.SourceID, model.SourceStatusFailed, msg); err != nil {
		log.Errorf("[Processor] 标记来源 %d 失败状态时出错: %v", task.SourceID, err)
	}
}

// InlineDispatcher 在上传请求中同步处理入库任务。
type InlineDispatcher struct {
	processor *Processor
}

// NewInlineDispatcher 创建同步分发器。
func NewInlineDispatcher(processor *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor}
}

// Dispatch 同步执行 Process，失败时由调用方删除来源。
func (d *InlineDispatcher) Dispatch(ctx context.Context, task tasks.SourceIngestionTask) error {
	return d.processor.Process(ctx, task)
}
