package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/logger"
)

const tracerName = "vocab-agent/agent"

type node string

const (
	nodeAgent    node = "agent"
	nodeTools    node = "tools"
	nodeGenerate node = "generate"
	nodeEnd      node = "end"
)

// Query is one turn's input. ThreadID identifies the chat.
type Query struct {
	Messages []domain.Message
	UserID   string
	ThreadID string
}

// Result is the outcome of a turn.
type Result struct {
	Answer    string
	Path      []string
	ToolCalls []domain.ToolCall
	Messages  []domain.Message
}

// HistorySource loads the prior messages of a chat.
type HistorySource interface {
	LoadRecent(ctx context.Context, chatID string) ([]domain.Message, error)
}

// Graph wires agent -> (tools -> generate | generate) -> end. Each turn is
// a single linear pass.
type Graph struct {
	history   HistorySource
	router    *Router
	tools     *ToolSet
	responder *Responder
	log       *slog.Logger
}

func NewGraph(history HistorySource, router *Router, tools *ToolSet, responder *Responder, log *slog.Logger) (*Graph, error) {
	if history == nil {
		return nil, errors.New("agent: history source must not be nil")
	}
	if router == nil || tools == nil || responder == nil {
		return nil, errors.New("agent: router, tools and responder are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Graph{history: history, router: router, tools: tools, responder: responder, log: log}, nil
}

// Invoke runs one turn and returns the final answer.
func (g *Graph) Invoke(ctx context.Context, q Query) (Result, error) {
	if len(q.Messages) == 0 {
		return Result{}, errors.New("agent: invoke: no messages")
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.turn")
	span.SetAttributes(attribute.String("chat.id", q.ThreadID))
	defer span.End()

	prior, err := g.history.LoadRecent(ctx, q.ThreadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history")
		return Result{}, err
	}

	st := &State{
		Messages:  append(append(make([]domain.Message, 0, len(prior)+len(q.Messages)+2), prior...), q.Messages...),
		Context:   map[string]any{},
		UserID:    q.UserID,
		ChatID:    q.ThreadID,
		TurnStart: len(prior),
	}

	var res Result
	for n := nodeAgent; n != nodeEnd; n = next(n, st) {
		res.Path = append(res.Path, string(n))
		if err := g.run(ctx, n, st, &res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(n))
			return Result{}, err
		}
	}

	final, _ := st.last()
	res.Answer = final.Content
	res.Messages = st.Messages
	span.SetAttributes(attribute.StringSlice("agent.path", res.Path))
	return res, nil
}

func (g *Graph) run(ctx context.Context, n node, st *State, res *Result) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.node."+string(n))
	defer span.End()
	log := logger.With(ctx, g.log)
	log.DebugContext(ctx, "agent node", "chat_id", st.ChatID, "node", string(n))

	switch n {
	case nodeAgent:
		return g.router.Route(ctx, st)
	case nodeTools:
		last, _ := st.last()
		for _, call := range last.ToolCalls {
			span.AddEvent("tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
			log.DebugContext(ctx, "executing tool", "chat_id", st.ChatID, "tool", call.Name)
			msg, err := g.tools.Execute(ctx, call)
			if err != nil {
				return err
			}
			res.ToolCalls = append(res.ToolCalls, call)
			st.append(msg)
		}
		return nil
	case nodeGenerate:
		return g.responder.Respond(ctx, st)
	default:
		return fmt.Errorf("agent: unknown node %q", n)
	}
}

// next is the transition function of the turn state machine.
func next(n node, st *State) node {
	switch n {
	case nodeAgent:
		if last, ok := st.last(); ok && last.HasToolCalls() {
			return nodeTools
		}
		return nodeGenerate
	case nodeTools:
		return nodeGenerate
	default:
		return nodeEnd
	}
}
