package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/favbox/gptdb/awel"
	awelflow "github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/internal/safe"
	"github.com/favbox/gptdb/model/operators"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// Stores 对话服务的两张表。
type Stores struct {
	Conversations metadata.Store[ConversationEntity]
	Messages      metadata.Store[MessageEntity]
}

// Service 对话管理与补全。
type Service struct {
	cfg    *ServeConfig
	convs  metadata.Store[ConversationEntity]
	msgs   metadata.Store[MessageEntity]
	logger *slog.Logger

	// chat_normal 场景的两张图：request_builder >> llm_operator | streaming_llm_operator
	generate awel.Operator
	stream   awel.Operator
}

// NewService client 为空时由 sys 中的 worker manager 解析，仍没有则使用 OpenAI 兼容客户端。
func NewService(stores Stores, client llm.LLMClient, sys *component.SystemApp, cfg *ServeConfig) (*Service, error) {
	if cfg == nil {
		cfg = &ServeConfig{}
	}
	cfg.applyDefaults()
	s := &Service{
		cfg:    cfg,
		convs:  stores.Conversations,
		msgs:   stores.Messages,
		logger: logging.L().With(slog.String("serve", ServeAppName)),
	}
	var err error
	if s.generate, err = s.chatDAG("chat_normal", operators.NewLLMOperator(client, sys, awel.WithNodeName("llm_operator"))); err != nil {
		return nil, err
	}
	streaming := operators.NewStreamingLLMOperator(client, sys, awel.WithNodeName("streaming_llm_operator"))
	if s.stream, err = s.chatDAG("chat_normal_stream", streaming); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) chatDAG(name string, llmOp awel.Operator) (awel.Operator, error) {
	dag := awel.NewDAG(name)
	input := awel.NewInputOperator(awel.CallDataInputSource())
	builder := awel.NewMapOperator(func(_ context.Context, in any) (*schema.ModelRequest, error) {
		return awelflow.BuildRequest(in, awelflow.RequestDefaults{Model: s.cfg.DefaultModel})
	}, awel.WithNodeName("request_builder"))
	if err := dag.Chain(input, builder, llmOp); err != nil {
		return nil, fmt.Errorf("build %s dag: %w", name, err)
	}
	return llmOp, nil
}

// Config 服务配置。
func (s *Service) Config() *ServeConfig { return s.cfg }

// ====== 对话管理 ======

// NewConversation 新建对话，chat_mode 默认为 chat_normal。
func (s *Service) NewConversation(ctx context.Context, req *ServeRequest) (*ConversationVO, error) {
	if req == nil {
		req = &ServeRequest{}
	}
	mode, err := chatMode(req.ChatMode)
	if err != nil {
		return nil, err
	}
	e, err := s.create(ctx, uuid.NewString(), mode, req.UserName, req.SysCode)
	if err != nil {
		return nil, err
	}
	return toVO(e), nil
}

func (s *Service) create(ctx context.Context, uid, mode, user, sysCode string) (*ConversationEntity, error) {
	e := &ConversationEntity{ConvUID: uid, ChatMode: mode, UserName: user, SysCode: sysCode}
	if err := s.convs.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func chatMode(mode string) (string, error) {
	switch mode {
	case "", ChatModeNormal:
		return ChatModeNormal, nil
	}
	return "", fmt.Errorf("%w: unsupported chat_mode '%s'", core.ErrInvalidArgument, mode)
}

// List 按 user_name、sys_code、chat_mode 过滤并分页。
func (s *Service) List(ctx context.Context, req *ServeRequest, page, pageSize int) (*core.PaginationResult[*ConversationVO], error) {
	q := metadata.Query{}
	if req != nil {
		for col, v := range map[string]string{"user_name": req.UserName, "sys_code": req.SysCode, "chat_mode": req.ChatMode} {
			if v != "" {
				q[col] = v
			}
		}
	}
	p, err := s.convs.Page(ctx, q, page, pageSize)
	if err != nil {
		return nil, err
	}
	items := make([]*ConversationVO, 0, len(p.Items))
	for _, e := range p.Items {
		items = append(items, toVO(e))
	}
	return core.NewPaginationResult(items, p.Total, p.Page, p.PageSize), nil
}

// Get 按 conv_uid 查找对话。
func (s *Service) Get(ctx context.Context, convUID string) (*ConversationVO, error) {
	e, err := s.convs.Get(ctx, metadata.Query{"conv_uid": convUID})
	if err != nil {
		return nil, err
	}
	return toVO(e), nil
}

// Messages 按时间顺序返回对话消息。
func (s *Service) Messages(ctx context.Context, convUID string) ([]*MessageVO, error) {
	if _, err := s.convs.Get(ctx, metadata.Query{"conv_uid": convUID}); err != nil {
		return nil, err
	}
	rows, err := s.msgs.List(ctx, metadata.Query{"conv_uid": convUID})
	if err != nil {
		return nil, err
	}
	out := make([]*MessageVO, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMessageVO(m))
	}
	return out, nil
}

// Delete 删除对话及其消息。
func (s *Service) Delete(ctx context.Context, convUID string) (*ConversationVO, error) {
	e, err := s.convs.Get(ctx, metadata.Query{"conv_uid": convUID})
	if err != nil {
		return nil, err
	}
	if _, err = s.msgs.Delete(ctx, metadata.Query{"conv_uid": convUID}); err != nil {
		return nil, err
	}
	if _, err = s.convs.Delete(ctx, metadata.Query{"conv_uid": convUID}); err != nil {
		return nil, err
	}
	return toVO(e), nil
}

// ====== 补全 ======

// chatRound 一轮对话。
type chatRound struct {
	conv  *ConversationEntity
	index int
	input string
	model string
	req   *schema.ModelRequest
}

// prepare 取最近 KeepEndRounds 轮历史，拼接系统提示与本轮用户输入。
func (s *Service) prepare(ctx context.Context, req *CompletionRequest) (*chatRound, error) {
	if req == nil || strings.TrimSpace(req.UserInput) == "" {
		return nil, fmt.Errorf("%w: user_input is required", core.ErrInvalidArgument)
	}
	mode, err := chatMode(req.ChatMode)
	if err != nil {
		return nil, err
	}
	model := req.ModelName
	if model == "" {
		model = s.cfg.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model_name is required", core.ErrInvalidArgument)
	}

	conv, err := s.conversation(ctx, req, mode)
	if err != nil {
		return nil, err
	}
	rows, err := s.msgs.List(ctx, metadata.Query{"conv_uid": conv.ConvUID})
	if err != nil {
		return nil, err
	}
	history := make([]*schema.ModelMessage, 0, len(rows))
	index := 1
	for _, m := range rows {
		history = append(history, toModelMessage(m))
		index = max(index, m.RoundIndex+1)
	}

	messages := []*schema.ModelMessage{schema.SystemMessage(s.cfg.SystemPrompt)}
	messages = append(messages, schema.LastRounds(schema.FilterView(history), s.cfg.KeepEndRounds)...)
	human := schema.HumanMessage(req.UserInput)
	human.RoundIndex = index
	messages = append(messages, human)

	return &chatRound{
		conv:  conv,
		index: index,
		input: req.UserInput,
		model: model,
		req: &schema.ModelRequest{
			Model:        model,
			Messages:     messages,
			Temperature:  req.Temperature,
			MaxNewTokens: req.MaxNewTokens,
			UserName:     req.UserName,
			Context: &schema.ModelRequestContext{
				ConvUID:  conv.ConvUID,
				ChatMode: mode,
				SysCode:  req.SysCode,
			},
		},
	}, nil
}

// conversation conv_uid 为空或不存在时新建对话。
func (s *Service) conversation(ctx context.Context, req *CompletionRequest, mode string) (*ConversationEntity, error) {
	if req.ConvUID == "" {
		return s.create(ctx, uuid.NewString(), mode, req.UserName, req.SysCode)
	}
	conv, err := s.convs.Get(ctx, metadata.Query{"conv_uid": req.ConvUID})
	if errors.Is(err, metadata.ErrNotFound) {
		return s.create(ctx, req.ConvUID, mode, req.UserName, req.SysCode)
	}
	return conv, err
}

// saveRound 保存本轮的用户输入与模型回复。
func (s *Service) saveRound(ctx context.Context, round *chatRound, answer string) error {
	msgs := []*MessageEntity{
		{ConvUID: round.conv.ConvUID, RoundIndex: round.index, Role: string(schema.Human), Content: round.input},
		{ConvUID: round.conv.ConvUID, RoundIndex: round.index, Role: string(schema.AI), Content: answer, ModelName: round.model},
	}
	for _, m := range msgs {
		if err := s.msgs.Create(ctx, m); err != nil {
			return err
		}
	}
	conv := round.conv
	if conv.Summary == "" {
		conv.Summary = round.input
	}
	conv.ModelName = round.model
	conv.MessageCount += len(msgs)
	return s.convs.Update(ctx, conv)
}

// Complete 非流式补全，成功后保存本轮消息。
func (s *Service) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	round, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := awel.CallOperator(ctx, s.generate, round.req)
	if err != nil {
		return nil, err
	}
	out, ok := v.(*schema.ModelOutput)
	if !ok {
		return nil, fmt.Errorf("unexpected model output %T", v)
	}
	if err = s.saveRound(ctx, round, out.Text); err != nil {
		return nil, err
	}
	return &CompletionResponse{ConvUID: round.conv.ConvUID, Text: out.Text, Model: round.model, Usage: out.Usage}, nil
}

// CompleteStream 流式补全，返回对话 uid 与输出流。
// 输出默认为累计文本，Incremental 时为增量文本；流正常结束后保存本轮消息，读取方提前关闭则不保存。
func (s *Service) CompleteStream(ctx context.Context, req *CompletionRequest) (string, *schema.StreamReader[*schema.ModelOutput], error) {
	round, err := s.prepare(ctx, req)
	if err != nil {
		return "", nil, err
	}
	src, err := awel.StreamOperator(ctx, s.stream, round.req)
	if err != nil {
		return "", nil, err
	}

	out, sw := schema.Pipe[*schema.ModelOutput](1)
	safe.Go(func() {
		defer sw.Close()
		defer src.Close()
		var acc *schema.ModelOutput
		for {
			v, err := src.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				sw.Send(nil, err)
				return
			}
			o, ok := v.(*schema.ModelOutput)
			if !ok {
				sw.Send(nil, fmt.Errorf("unexpected stream chunk %T", v))
				return
			}
			prev := ""
			if acc != nil {
				prev = acc.Text
			}
			acc = schema.MergeOutputs(acc, o)
			chunk := *acc
			chunk.Incremental = req.Incremental
			if req.Incremental {
				chunk.Text = strings.TrimPrefix(acc.Text, prev)
			}
			if closed := sw.Send(&chunk, nil); closed {
				return
			}
		}
		if acc == nil {
			return
		}
		if err := s.saveRound(context.WithoutCancel(ctx), round, acc.Text); err != nil {
			s.logger.Error("save chat round failed", slog.String("conv_uid", round.conv.ConvUID), slog.Any("error", err))
		}
	}, func(err error) {
		s.logger.Error("chat stream panicked", slog.String("conv_uid", round.conv.ConvUID), slog.Any("error", err))
	})
	return round.conv.ConvUID, out, nil
}
