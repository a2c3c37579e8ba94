package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, int64(5*1024*1024), cfg.Ingestion.LargeFileThreshold)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "pool", cfg.Ingestion.Dispatcher)
	assert.NoError(t, cfg.validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
ingestion:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  top_k: 5
vector_store:
  type: elasticsearch
elasticsearch:
  addresses: "http://es1:9200,http://es2:9200"
llm:
  generation:
    temperature: 0.3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 500, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 50, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "elasticsearch", cfg.VectorStore.Type)
	assert.Equal(t, "http://es1:9200,http://es2:9200", cfg.Elasticsearch.Addresses)
	assert.InDelta(t, 0.3, cfg.LLM.Generation.Temperature, 1e-9)
	// 未出现在文件中的键保留默认值
	assert.Equal(t, "docqa_chunks", cfg.Elasticsearch.IndexName)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	t.Setenv("DOCQA_SERVER_PORT", "7070")
	t.Setenv("DOCQA_LLM_API_KEY", "sk-test")
	t.Setenv("DOCQA_INGESTION_CHUNK_SIZE", "256")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 256, cfg.Ingestion.ChunkSize)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Ingestion, cfg.Ingestion)
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"chunk size":   "ingestion:\n  chunk_size: 0\n",
		"overlap":      "ingestion:\n  chunk_overlap: -1\n",
		"dispatcher":   "ingestion:\n  dispatcher: nats\n",
		"storage":      "storage:\n  type: s3\n",
		"vector store": "vector_store:\n  type: faiss\n",
		"top k":        "retrieval:\n  top_k: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated\n"))
	assert.Error(t, err)
}
