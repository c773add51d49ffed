package model

// Citation 是回答中的一条引用，不单独持久化。
type Citation struct {
	SourceID uint   `json:"source_id"`
	Page     int    `json:"page"`
	Quote    string `json:"quote"`
}

// Answer 是回答生成的结构化输出。
type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}
