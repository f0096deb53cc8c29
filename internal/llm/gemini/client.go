package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/internal/llm"
)

// Extract implements llm.Provider over the generateContent REST endpoint.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (map[string]llm.FieldValue, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("gemini.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"content_type", req.ContentType,
		"artifact_bytes", len(req.Data),
		"constrained", req.Schema != nil,
	)

	text, raw, err := c.generate(ctx, c.cfg.Model, req.Prompt, req.Data, req.ContentType, req.Schema)
	if err != nil {
		c.log.Error("gemini.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, err
	}

	obj, err := llm.DecodeLenientObject([]byte(text))
	if err != nil {
		c.log.Error("gemini.extract.decode_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, []byte(text), fmt.Errorf("decode gemini response: %w", err)
	}

	if req.Schema != nil {
		cleaned, _ := json.Marshal(obj)
		if err := llm.ValidateJSONAgainstSchema(req.Schema, cleaned); err != nil {
			c.log.Error("gemini.extract.schema_validation_failed",
				"req_id", rid, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, cleaned, fmt.Errorf("schema validation failed: %w", err)
		}
	}

	out := llm.DecodeFieldResults(obj)
	c.log.Info("gemini.extract.ok",
		"req_id", rid, "fields", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, []byte(text), nil
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "gemini" }

// GenerateTemplate implements llm.TemplateGenerator: it asks the cheaper
// model for field definitions instead of field values.
func (c *Client) GenerateTemplate(ctx context.Context, data []byte, contentType string) ([]llm.FieldDef, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()
	schema := llm.BuildTemplateGenSchema()

	c.log.Info("gemini.templategen.start",
		"req_id", rid, "model", c.cfg.TemplateGenModel, "artifact_bytes", len(data))

	text, raw, err := c.generate(ctx, c.cfg.TemplateGenModel, llm.BuildTemplateGenPrompt(), data, contentType, schema)
	if err != nil {
		c.log.Error("gemini.templategen.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, err
	}

	obj, err := llm.DecodeLenientObject([]byte(text))
	if err != nil {
		return nil, []byte(text), fmt.Errorf("decode template response: %w", err)
	}
	fields, err := llm.ParseTemplateFields(obj)
	if err != nil {
		c.log.Error("gemini.templategen.invalid",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, []byte(text), err
	}

	c.log.Info("gemini.templategen.ok",
		"req_id", rid, "fields", len(fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, []byte(text), nil
}

// generate posts one generateContent call and returns the first candidate's
// text plus the raw response body.
func (c *Client) generate(ctx context.Context, model, prompt string, data []byte, contentType string, schema map[string]any) (string, []byte, error) {
	parts := []map[string]any{
		{"text": prompt},
		{"inline_data": map[string]any{
			"mime_type": contentType,
			"data":      base64.StdEncoding.EncodeToString(data),
		}},
	}
	genCfg := map[string]any{
		"temperature":        c.cfg.Temperature,
		"response_mime_type": "application/json",
	}
	if schema != nil {
		genCfg["response_schema"] = toWireSchema(schema)
	}
	body := map[string]any{
		"contents":         []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": genCfg,
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), model)
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return "", raw, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", raw, fmt.Errorf("decode gemini envelope: %w", err)
	}
	var b strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", raw, fmt.Errorf("no text response from gemini")
	}
	return text, raw, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("gemini response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

// toWireSchema rewrites our JSON-Schema map into the OpenAPI-style schema the
// generateContent API expects (upper-case type names, no union types).
func toWireSchema(schema map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range schema {
		switch k {
		case "type":
			out["type"] = strings.ToUpper(firstType(v))
		case "properties":
			if props, ok := v.(map[string]any); ok {
				converted := map[string]any{}
				for name, sub := range props {
					if subMap, ok := sub.(map[string]any); ok {
						converted[name] = toWireSchema(subMap)
					}
				}
				out["properties"] = converted
			}
		case "items":
			if sub, ok := v.(map[string]any); ok {
				out["items"] = toWireSchema(sub)
			}
		case "required", "enum":
			out[k] = v
		}
	}
	return out
}

func firstType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return "string"
}
