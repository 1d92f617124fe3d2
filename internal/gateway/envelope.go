package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

const messageVersion = "1.0"

// NamedValue is one parameter in the wire format.
type NamedValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// InvokeRequest is the inbound envelope. Two forms are accepted: a flat
// parameters list, and the action-group form that nests properties inside
// requestBody content.
type InvokeRequest struct {
	MessageVersion string       `json:"messageVersion,omitempty"`
	SessionID      string       `json:"sessionId,omitempty"`
	ActionGroup    string       `json:"actionGroup,omitempty"`
	APIPath        string       `json:"apiPath"`
	HTTPMethod     string       `json:"httpMethod,omitempty"`
	Parameters     []NamedValue `json:"parameters,omitempty"`
	RequestBody    *struct {
		Content map[string]struct {
			Properties []NamedValue `json:"properties"`
		} `json:"content"`
	} `json:"requestBody,omitempty"`
}

// ParseInvoke decodes an invoke envelope and flattens its parameters.
// When both forms carry the same parameter name, requestBody properties win.
func ParseInvoke(body []byte) (*InvokeRequest, map[string]any, error) {
	var req InvokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("decode invoke envelope: %w", err)
	}
	if strings.TrimSpace(req.APIPath) == "" {
		return nil, nil, fmt.Errorf("invoke envelope: apiPath required")
	}

	params := make(map[string]any)
	for _, p := range req.Parameters {
		params[p.Name] = p.Value
	}
	if req.RequestBody != nil {
		for _, content := range req.RequestBody.Content {
			for _, p := range content.Properties {
				params[p.Name] = p.Value
			}
		}
	}
	return &req, params, nil
}

// ToolName maps an apiPath onto a registry tool name.
func (r *InvokeRequest) ToolName() string {
	return strings.Trim(r.APIPath, "/")
}

// ResponseEnvelope is the outbound wire format. The response body is a JSON
// string keyed by content type, mirroring the inbound requestBody shape.
type ResponseEnvelope struct {
	MessageVersion string       `json:"messageVersion"`
	Response       ResponseCore `json:"response"`
}

type ResponseCore struct {
	ActionGroup    string                  `json:"actionGroup,omitempty"`
	APIPath        string                  `json:"apiPath"`
	HTTPMethod     string                  `json:"httpMethod"`
	HTTPStatusCode int                     `json:"httpStatusCode"`
	ResponseBody   map[string]ResponseBody `json:"responseBody"`
}

type ResponseBody struct {
	Body string `json:"body"`
}

// BuildResponse wraps a payload in the response envelope. The payload is
// serialized to a JSON string inside responseBody.
func BuildResponse(req *InvokeRequest, statusCode int, payload any) ResponseEnvelope {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	method := req.HTTPMethod
	if method == "" {
		method = "POST"
	}
	return ResponseEnvelope{
		MessageVersion: messageVersion,
		Response: ResponseCore{
			ActionGroup:    req.ActionGroup,
			APIPath:        req.APIPath,
			HTTPMethod:     method,
			HTTPStatusCode: statusCode,
			ResponseBody: map[string]ResponseBody{
				"application/json": {Body: string(body)},
			},
		},
	}
}
