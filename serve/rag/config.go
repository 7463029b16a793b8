// Package rag 知识空间与文档管理服务。
package rag

import (
	"os"
	"path/filepath"

	"github.com/favbox/gptdb/rag/chunk"
	"github.com/favbox/gptdb/serve/core"
)

const (
	APPName                   = "rag"
	ServeAppName              = "gptdb_serve_rag"
	ServeServiceComponentName = ServeAppName + "_service"
	ServeConfigKeyPrefix      = "gptdb.serve.rag."
	APIPrefix                 = "/api/v2/serve/knowledge"

	SpaceTableName    = "knowledge_space"
	DocumentTableName = "knowledge_document"
	ChunkTableName    = "document_chunk"
)

// ServeConfig 知识服务配置。
type ServeConfig struct {
	core.BaseServeConfig
	DefaultChunkSize    int    `config:"default_chunk_size"`
	DefaultChunkOverlap int    `config:"default_chunk_overlap"`
	EmbeddingModel      string `config:"embedding_model"`
	// EmbeddingAPIKey 与 EmbeddingAPIBase 为空时由向量化客户端读取环境变量
	EmbeddingAPIKey  string `config:"embedding_api_key"`
	EmbeddingAPIBase string `config:"embedding_api_base"`
	// UploadDir 上传文件保存目录
	UploadDir string `config:"upload_dir"`
	// MaxChunksOnceLoad 每批写入索引存储的片段数
	MaxChunksOnceLoad int `config:"max_chunks_once_load"`
	// MaxThreads 并发写入的批数，同时也是并发同步的文档数
	MaxThreads int `config:"max_threads"`
	// DefaultModel 知识图谱抽取三元组所用模型，同步请求未指定 model_name 时使用
	DefaultModel string `config:"default_model"`
}

func (c *ServeConfig) applyDefaults() {
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = chunk.DefaultChunkSize
		if c.DefaultChunkOverlap == 0 {
			c.DefaultChunkOverlap = chunk.DefaultChunkOverlap
		}
	}
	if c.DefaultChunkOverlap < 0 || c.DefaultChunkOverlap >= c.DefaultChunkSize {
		c.DefaultChunkOverlap = chunk.DefaultChunkOverlap
	}
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(os.TempDir(), "gptdb", "knowledge")
	}
	if c.MaxChunksOnceLoad <= 0 {
		c.MaxChunksOnceLoad = 10
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = 1
	}
}
