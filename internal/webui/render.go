// ABOUTME: Template rendering for the web chat page
// ABOUTME: Assistant replies are rendered from markdown with goldmark; raw HTML in replies is escaped

package webui

import (
	"bytes"
	"html/template"
	"net/http"
	"slices"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

// markdown converts assistant replies. goldmark omits raw HTML unless
// html.WithUnsafe is set, so the output is safe to embed.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var templateFuncs = template.FuncMap{
	"shortID": shortID,
}

var chatTemplate = template.Must(
	template.New("chat.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/chat.html"),
)

// Template data types
type threadItem struct {
	ID     string
	Active bool
}

type messageItem struct {
	Role string
	Text string
	HTML template.HTML
}

type chatPageData struct {
	Title    string
	ThreadID string
	Threads  []threadItem
	Messages []messageItem
}

// shortID trims a thread ID for the sidebar
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// renderMarkdown converts text to HTML, falling back to escaped text
func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

// newChatPageData builds the page model. The sidebar lists the newest
// thread first.
func newChatPageData(sess *conversation.Session) chatPageData {
	active := sess.ThreadID()

	ids := slices.Clone(sess.Threads())
	slices.Reverse(ids)
	threads := make([]threadItem, 0, len(ids))
	for _, id := range ids {
		threads = append(threads, threadItem{ID: id, Active: id == active})
	}

	display := sess.Messages()
	messages := make([]messageItem, 0, len(display))
	for _, m := range display {
		item := messageItem{Role: string(m.Role), Text: m.Text}
		if m.Role == store.RoleAssistant {
			item.HTML = renderMarkdown(m.Text)
		}
		messages = append(messages, item)
	}

	return chatPageData{
		Title:    "coven-chat",
		ThreadID: active,
		Threads:  threads,
		Messages: messages,
	}
}

// renderChatPage renders the chat page
func (s *Server) renderChatPage(w http.ResponseWriter, sess *conversation.Session) {
	var buf bytes.Buffer
	if err := chatTemplate.Execute(&buf, newChatPageData(sess)); err != nil {
		s.logger.Error("failed to render chat page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
