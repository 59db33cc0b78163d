package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"chathub/internal/models"
)

const defaultClaudeMaxTokens = 1024

// EinoGateway implements Completer on top of the eino chat-model
// components. Chat models are built lazily per (model, key) pair and cached
// for the life of the process.
type EinoGateway struct {
	provider string
	baseURL  string
	tools    []tool.BaseTool

	mu      sync.Mutex
	clients map[string]client
}

type client struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
}

// NewEinoGateway builds a gateway for one provider. When enableSearch is
// set a web-search tool chain is attached and calls go through a react
// agent instead of the bare model.
func NewEinoGateway(provider, baseURL string, enableSearch bool) (*EinoGateway, error) {
	switch provider {
	case "openai", "claude", "gemini":
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	g := &EinoGateway{
		provider: provider,
		baseURL:  baseURL,
		clients:  make(map[string]client),
	}
	if enableSearch {
		g.tools = initToolsChain()
	}
	return g, nil
}

func (g *EinoGateway) Complete(ctx context.Context, key string, messages []models.Message, opts Options) (models.Message, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cl, err := g.client(ctx, key, opts)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	einoMsgs := toSchema(messages)
	var out *schema.Message
	if cl.agent != nil {
		out, err = cl.agent.Generate(ctx, einoMsgs)
	} else {
		callOpts := []model.Option{model.WithTemperature(opts.Temperature)}
		if opts.MaxTokens > 0 {
			callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
		}
		out, err = cl.chatModel.Generate(ctx, einoMsgs, callOpts...)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return models.Message{}, fmt.Errorf("%w: empty completion", ErrMalformed)
	}
	return models.Message{Role: models.RoleAssistant, Content: out.Content}, nil
}

func (g *EinoGateway) client(ctx context.Context, key string, opts Options) (client, error) {
	cacheKey := opts.Model + "|" + key

	g.mu.Lock()
	defer g.mu.Unlock()
	if cl, ok := g.clients[cacheKey]; ok {
		return cl, nil
	}

	chatModel, err := g.newChatModel(ctx, key, opts)
	if err != nil {
		return client{}, err
	}
	cl := client{chatModel: chatModel}
	if len(g.tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: g.tools,
			},
		})
		if err != nil {
			return client{}, fmt.Errorf("init react agent: %w", err)
		}
		cl.agent = agent
	}
	g.clients[cacheKey] = cl
	return cl, nil
}

func (g *EinoGateway) newChatModel(ctx context.Context, key string, opts Options) (model.ToolCallingChatModel, error) {
	switch g.provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: g.baseURL,
			Model:   opts.Model,
			APIKey:  key,
		})
	case "gemini":
		gclient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: gclient,
			Model:  opts.Model,
		})
	case "claude":
		maxTokens := opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultClaudeMaxTokens
		}
		var baseURLPtr *string
		if g.baseURL != "" {
			baseURLPtr = &g.baseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    key,
			Model:     opts.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	}
	return nil, fmt.Errorf("invalid provider: %s", g.provider)
}

func toSchema(messages []models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}
