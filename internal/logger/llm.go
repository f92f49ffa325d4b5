package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"quorum/internal/pkg/jsonutil"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter directs raw prompt/response dumps to w. Nil disables dumping.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

// EnableLLMPayloadDump additionally dumps the wire payload of each request.
func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, model, agent string, sections []llmSection) {
	llmMu.Lock()
	sink := llmLog
	llmMu.Unlock()
	if sink == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range []string{kind, model, agent} {
		if tag != "" {
			b.WriteString("[")
			b.WriteString(tag)
			b.WriteString("]")
		}
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	sink.Print(b.String())
}

func LogLLMRequest(model, agent, systemPrompt, userPrompt, payload string) {
	sections := []llmSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	if llmDumpPayload && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: jsonutil.Pretty(payload)})
	}
	logLLM("request", model, agent, sections)
}

func LogLLMResponse(model, agent, raw string) {
	logLLM("response", model, agent, []llmSection{{Title: "RAW", Body: raw}})
}
