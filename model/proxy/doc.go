// Package proxy 将第三方大模型接口适配为 llm.LLMClient。
//
// OpenAILLMClient 直接调用 OpenAI 兼容的 HTTP 接口，MoonshotLLMClient 在其基础上
// 补齐 Moonshot 的默认值；ClaudeLLMClient 基于 anthropic-sdk-go。
// Registry 按 PROXY_SERVER_TYPE 或模型名称选择客户端。
package proxy
