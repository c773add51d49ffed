package model

import "errors"

// 业务错误。调用方通过 errors.Is 判断类别，具体原因用 %w 包装在后面。
var (
	// ErrUnreadableDocument 文档无法解析出文本（损坏或加密的 PDF），本次上传失败。
	ErrUnreadableDocument = errors.New("unreadable document")
	// ErrRetrievalUnavailable 向量库不可达，本次提问失败，可重试。
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGeneration 模型调用失败或输出不符合结构，本次提问失败，可重试。
	ErrGeneration = errors.New("generation failed")
	// ErrAccessDenied 笔记本不属于当前用户，对外表现为不存在。
	ErrAccessDenied = errors.New("notebook not found")
	// ErrDuplicateNotebookTitle 笔记本标题已被占用。
	ErrDuplicateNotebookTitle = errors.New("notebook title already exists")
	// ErrInvalidRequest 请求参数不合法。
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound 资源不存在。
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials 邮箱或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken 邮箱已被注册。
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnsupportedFile 上传的文件不是 PDF。
	ErrUnsupportedFile = errors.New("only PDF files are supported")
)
