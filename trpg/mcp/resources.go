package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ListResources returns the resources the host exposes. Unlike the tool
// catalog it is not cached; resource sets may change during a session.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	var result ListResourcesResult
	if err := c.roundTrip(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource fetches the contents of one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%s: empty uri", MethodResourcesRead)
	}
	var result ReadResourceResult
	if err := c.roundTrip(ctx, MethodResourcesRead, ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// ListPrompts returns the prompt templates the host exposes.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	var result ListPromptsResult
	if err := c.roundTrip(ctx, MethodPromptsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt template with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	var result GetPromptResult
	if err := c.roundTrip(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// roundTrip sends one request on the session endpoint and decodes its
// result into out. RPC errors come back as *ProtocolError.
func (c *Client) roundTrip(ctx context.Context, method string, params, out any) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, c.cfg.Endpoint, req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Msg("mcp request failed")
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		c.logger.Warn().Str("method", method).Int("code", resp.Error.Code).Msg(resp.Error.Message)
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// FormatResources renders resources one per line with URI and MIME type.
func FormatResources(resources []ResourceInfo) string {
	if len(resources) == 0 {
		return "No resources available"
	}
	lines := make([]string, 0, len(resources))
	for _, r := range resources {
		line := fmt.Sprintf("- %s <%s>", r.Name, r.URI)
		if r.MimeType != "" {
			line += " [" + r.MimeType + "]"
		}
		if r.Description != "" {
			line += ": " + r.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatPrompts renders prompt templates with their arguments.
func FormatPrompts(prompts []PromptInfo) string {
	if len(prompts) == 0 {
		return "No prompts available"
	}
	lines := make([]string, 0, len(prompts))
	for _, p := range prompts {
		line := fmt.Sprintf("- %s: %s", p.Name, p.Description)
		if len(p.Arguments) > 0 {
			args := make([]string, 0, len(p.Arguments))
			for _, a := range p.Arguments {
				flag := "optional"
				if a.Required {
					flag = "required"
				}
				args = append(args, fmt.Sprintf("%s (%s)", a.Name, flag))
			}
			line += " Arguments: " + strings.Join(args, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// PromptText joins the text of every rendered message, in order.
func (r *GetPromptResult) PromptText() string {
	texts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Content.Type == "text" || m.Content.Type == "" {
			texts = append(texts, m.Content.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// ParsePromptArgs reads key=value tokens. Tokens without '=' are rejected.
func ParsePromptArgs(tokens []string) (map[string]string, error) {
	args := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimPrefix(tok, "--")
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", tok)
		}
		args[key] = value
	}
	return args, nil
}

