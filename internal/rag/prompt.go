package rag

import (
	"fmt"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/pkg/log"
)

const (
	defaultRefStart     = "<<REF>>"
	defaultRefEnd       = "<<END>>"
	defaultNoResultText = "(no relevant context was retrieved)"
	defaultRules        = "You answer questions using only the reference material between the markers below. " +
		"Cite references by their number like [1]. If the references do not contain the answer, say you don't know."
)

type reference struct {
	label string
	text  string
}

type promptTemplate struct {
	rules     string
	refStart  string
	refEnd    string
	noResult  string
	counter   TokenCounter
	maxTokens int
}

func newPromptTemplate(cfg config.LLMPromptConfig, counter TokenCounter, maxTokens int) promptTemplate {
	t := promptTemplate{
		rules:     cfg.Rules,
		refStart:  cfg.RefStart,
		refEnd:    cfg.RefEnd,
		noResult:  cfg.NoResultText,
		counter:   counter,
		maxTokens: maxTokens,
	}
	if t.rules == "" {
		t.rules = defaultRules
	}
	if t.refStart == "" {
		t.refStart = defaultRefStart
	}
	if t.refEnd == "" {
		t.refEnd = defaultRefEnd
	}
	if t.noResult == "" {
		t.noResult = defaultNoResultText
	}
	return t
}

func formatReference(i int, r reference) string {
	return fmt.Sprintf("[%d] (%s) %s\n", i+1, r.label, r.text)
}

// checkQuery 在问题本身占满 token 预算时返回 InvalidInput。
func (t promptTemplate) checkQuery(query string) error {
	if t.maxTokens <= 0 {
		return nil
	}
	fixed := t.counter.Count(t.render("", ""))
	q := t.counter.Count(query)
	if fixed+q >= t.maxTokens {
		return apperr.New(apperr.ErrInvalidInput,
			"query is too long: %d tokens leave no room for context within max_context_tokens %d", q, t.maxTokens)
	}
	return nil
}

// build 生成 system 消息，返回实际放入上下文的引用条数。
// 引用按相似度顺序放入，直到超出 token 预算；第一条过长时会被截断。
func (t promptTemplate) build(refs []reference, query string) (string, int) {
	var ctxText strings.Builder
	used := 0
	if len(refs) > 0 {
		unlimited := t.maxTokens <= 0
		remaining := 0
		if !unlimited {
			remaining = t.maxTokens - t.counter.Count(t.render("", "")) - t.counter.Count(query)
		}
		for i, r := range refs {
			block := formatReference(i, r)
			if unlimited {
				ctxText.WriteString(block)
				used++
				continue
			}
			n := t.counter.Count(block)
			if n > remaining {
				if used == 0 {
					block = t.shrink(i, r, remaining)
					ctxText.WriteString(block)
					used++
				}
				log.Warnf("[QueryEngine] 上下文达到 token 上限 %d, 使用 %d/%d 个片段", t.maxTokens, used, len(refs))
				break
			}
			ctxText.WriteString(block)
			remaining -= n
			used++
		}
	}
	return t.render(ctxText.String(), t.noResult), used
}

// shrink 截断引用文本直到满足预算，至少保留一个字符。
func (t promptTemplate) shrink(i int, r reference, budget int) string {
	runes := []rune(r.text)
	for len(runes) > 1 {
		runes = runes[:len(runes)/2]
		block := formatReference(i, reference{label: r.label, text: string(runes)})
		if t.counter.Count(block) <= budget {
			return block
		}
	}
	return formatReference(i, reference{label: r.label, text: string(runes)})
}

func (t promptTemplate) render(contextText, noResult string) string {
	var sys strings.Builder
	sys.WriteString(t.rules)
	sys.WriteString("\n\n")
	sys.WriteString(t.refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else if noResult != "" {
		sys.WriteString(noResult)
		sys.WriteString("\n")
	}
	sys.WriteString(t.refEnd)
	return sys.String()
}
