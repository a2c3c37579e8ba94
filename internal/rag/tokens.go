package rag

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"docqa-go/pkg/log"
)

// TokenCounter 估算一段文本的 token 数。
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter 返回指定编码的 tiktoken 计数器。编码加载失败（例如离线环境）
// 或 encoding 为空时退化为启发式计数。
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		return HeuristicCounter{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warnf("[QueryEngine] 加载 tiktoken 编码 %s 失败, 使用估算计数: %v", encoding, err)
		return HeuristicCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// HeuristicCounter 按单词数加 CJK 字符数估算 token。
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	count := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
