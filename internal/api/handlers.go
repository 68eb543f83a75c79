package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"document-qa/internal/session"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler serves the session, document and question endpoints.
type Handler struct {
	sessions *session.Manager
	version  string
}

func NewHandler(sessions *session.Manager, version string) *Handler {
	return &Handler{sessions: sessions, version: version}
}

type questionRequest struct {
	Question string `json:"question"`
}

// HandleHealth returns server health status
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  h.version,
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) HandleCreateSession(c echo.Context) error {
	info, err := h.sessions.Create(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

func (h *Handler) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.List())
}

func (h *Handler) HandleGetSession(c echo.Context) error {
	info, err := h.sessions.Info(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) HandleDeleteSession(c echo.Context) error {
	if err := h.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUploadDocument extracts and indexes the multipart "file" field.
func (h *Handler) HandleUploadDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewValidationError("file")
	}
	f, err := fh.Open()
	if err != nil {
		return NewBadRequestError("failed to open uploaded file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return NewBadRequestError("failed to read uploaded file", err)
	}

	doc, err := h.sessions.Upload(c.Request().Context(), c.Param("id"), fh.Filename, fh.Header.Get(echo.HeaderContentType), data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, doc)
}

// HandleAskQuestion answers a question as JSON, or as server-sent events when
// the client accepts text/event-stream.
func (h *Handler) HandleAskQuestion(c echo.Context) error {
	var req questionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return h.streamAnswer(c, req.Question)
	}

	resp, err := h.sessions.Ask(c.Request().Context(), c.Param("id"), req.Question, nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) streamAnswer(c echo.Context, question string) error {
	w := c.Response()
	// headers go out with the first token so that an early failure is still a JSON error
	start := func() {
		if w.Committed {
			return
		}
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}

	resp, err := h.sessions.Ask(c.Request().Context(), c.Param("id"), question, func(ctx context.Context, chunk []byte) error {
		start()
		writeEvent(w, "", string(chunk))
		w.Flush()
		return nil
	})
	if err != nil {
		if !w.Committed {
			return err
		}
		log.Warn().Err(err).Str("session", c.Param("id")).Msg("Answer stream failed")
		data, _ := json.Marshal(FromError(err))
		writeEvent(w, "error", string(data))
		w.Flush()
		return nil
	}

	start()
	sources, err := json.Marshal(resp.Sources)
	if err != nil {
		return err
	}
	writeEvent(w, "sources", string(sources))
	writeEvent(w, "", "[DONE]")
	w.Flush()
	return nil
}

// writeEvent writes one SSE frame. Each line of data gets its own data field.
func writeEvent(w io.Writer, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func (h *Handler) HandleHistory(c echo.Context) error {
	history, err := h.sessions.History(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

// HandleHistoryMsgpack returns the chat history encoded as msgpack.
func (h *Handler) HandleHistoryMsgpack(c echo.Context) error {
	history, err := h.sessions.History(c.Param("id"))
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(history)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *Handler) HandleClearHistory(c echo.Context) error {
	if err := h.sessions.ClearHistory(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
