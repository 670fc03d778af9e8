package service

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"fin-chat-go/pkg/kafka"
	"fin-chat-go/pkg/llm"
)

type createCall struct {
	history []llm.Turn
	opts    llm.ContextOptions
}

// fakeLLM 是可编排的模型客户端：记录上下文创建与发送，并按脚本返回分块。
type fakeLLM struct {
	mu        sync.Mutex
	creates   []createCall
	sends     [][]llm.Part
	chunks    []string
	streamErr error
	createErr error
	// gate 非空时，每个分块发送前都会等待 gate 中的一个值。
	gate chan struct{}
}

func (f *fakeLLM) CreateContext(_ context.Context, history []llm.Turn, opts llm.ContextOptions) (llm.ChatContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates = append(f.creates, createCall{history: append([]llm.Turn(nil), history...), opts: opts})
	return &fakeContext{llm: f, id: len(f.creates)}, nil
}

func (f *fakeLLM) createCalls() []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createCall(nil), f.creates...)
}

func (f *fakeLLM) sentParts() [][]llm.Part {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Part(nil), f.sends...)
}

type fakeContext struct {
	llm *fakeLLM
	id  int
}

func (c *fakeContext) SendStreaming(_ context.Context, parts []llm.Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.llm.mu.Lock()
		c.llm.sends = append(c.llm.sends, parts)
		chunks := append([]string(nil), c.llm.chunks...)
		streamErr := c.llm.streamErr
		gate := c.llm.gate
		c.llm.mu.Unlock()

		for _, ch := range chunks {
			if gate != nil {
				<-gate
			}
			if !yield(ch, nil) {
				return
			}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}
}

// fakePublisher 记录发布的事件。
type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.SessionEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e kafka.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

// sequentialIDs 返回依次递增的消息 ID 生成器。
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

// steppingClock 每次调用前进一秒。
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}
