package server

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*
var templateFiles embed.FS

const (
	callbackTemplate = "callback.html"

	bridgeMessageType = "salesforce-auth"
	// lets the opener render its confirmation before the popup goes away
	bridgeCloseDelayMs = 1500
)

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses a template from the embedded filesystem
func ParseTemplate(name string) (*template.Template, error) {
	content, err := fs.ReadFile(TemplateFilesFS(), name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}

// bridgeSummary is what the opener learns about a login. Tokens stay on the
// server behind the session cookie.
type bridgeSummary struct {
	UserID         string `json:"userId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	InstanceURL    string `json:"instanceUrl"`
}

type bridgeMessage struct {
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Data   *bridgeSummary `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type bridgePage struct {
	Title        string
	Detail       string
	Message      bridgeMessage
	TargetOrigin string
	CloseAfterMs int
}

func (s *Server) renderBridgeSuccess(w http.ResponseWriter, r *http.Request, tokens salesforce.TokenBundle) {
	s.renderBridge(w, r, http.StatusOK, bridgePage{
		Title:  "Connected to Salesforce",
		Detail: "Login complete.",
		Message: bridgeMessage{
			Type:   bridgeMessageType,
			Status: "success",
			Data: &bridgeSummary{
				UserID:         tokens.UserID,
				OrganizationID: tokens.OrganizationID,
				InstanceURL:    tokens.InstanceURL,
			},
		},
	})
}

func (s *Server) renderBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("request_id", requestID(r)).Str("code", code).Msg("Login failed")
	}
	s.renderBridge(w, r, status, bridgePage{
		Title:  "Salesforce login failed",
		Detail: message,
		Message: bridgeMessage{
			Type:   bridgeMessageType,
			Status: "error",
			Error:  message,
		},
	})
}

func (s *Server) renderBridge(w http.ResponseWriter, r *http.Request, status int, page bridgePage) {
	page.TargetOrigin = s.config.GetFrontendURL()
	page.CloseAfterMs = bridgeCloseDelayMs

	var buf bytes.Buffer
	if err := s.bridge.Execute(&buf, page); err != nil {
		log.Err(err).Str("request_id", requestID(r)).Msg("Failed to render bridge page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
