package types

// UpstreamMessage is a message in the shape the upstream chat API expects.
// Content is a plain string for text-only messages or a block list for
// multimodal messages.
type UpstreamMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ModelItem mirrors the upstream's model descriptor embedded in the payload.
type ModelItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
}

// UpstreamEnvelope is the full outbound payload for the upstream chat
// endpoint. Built once per inbound request and immutable afterwards.
type UpstreamEnvelope struct {
	Stream      bool              `json:"stream"`
	Model       string            `json:"model"`
	Messages    []UpstreamMessage `json:"messages"`
	Params      map[string]any    `json:"params"`
	Features    map[string]any    `json:"features"`
	ChatID      string            `json:"chat_id"`
	ID          string            `json:"id"`
	MCPServers  []string          `json:"mcp_servers,omitempty"`
	ModelItem   ModelItem         `json:"model_item"`
	ToolServers []string          `json:"tool_servers"`
	Variables   map[string]string `json:"variables"`
}
