package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/pipeline"
)

// Client → server message types.
const (
	msgImage = "image"
	msgEnd   = "end"
)

// Server → client message types.
const (
	msgProgress = "progress"
	msgItem     = "item"
	msgSummary  = "summary"
	msgError    = "error"
)

const streamWriteWait = 10 * time.Second

// streamEnvelope covers the JSON around the base64 payload of one message.
const streamEnvelope = 4096

// streamReadLimit bounds one websocket message so that an image of maxSize
// bytes still fits once base64 encoded. Zero means no limit.
func streamReadLimit(maxSize int64) int64 {
	if maxSize <= 0 {
		return 0
	}
	return int64(base64.StdEncoding.EncodedLen(int(maxSize))) + streamEnvelope
}

// streamRequest is one client message. Clusters is read from the first image
// only, since it applies to the whole batch.
type streamRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
	Clusters int    `json:"clusters,omitempty"`
}

type streamResponse struct {
	Type     string                  `json:"type"`
	Progress *pipeline.ProgressEvent `json:"progress,omitempty"`
	Item     *pipeline.Item          `json:"item,omitempty"`
	Summary  *BatchData              `json:"summary,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

// stream runs the incremental variant over a websocket. Images arrive one per
// message and are processed in order; "end" or a disconnect closes the batch.
// Work finished before a disconnect is kept and archived.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if limit := streamReadLimit(s.upload.MaxSize); limit > 0 {
		conn.SetReadLimit(limit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := func(m streamResponse) {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			cancel()
		}
	}

	var session *pipeline.Session
	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("stream client disconnected", zap.Error(err))
			}
			cancel()
			break
		}

		if req.Type == msgEnd {
			break
		}
		if req.Type != msgImage {
			send(streamResponse{Type: msgError, Message: "unknown message type " + req.Type})
			continue
		}

		if session == nil {
			session, err = s.orch.NewSession(pipeline.Options{
				ClusterCount: req.Clusters,
				Progress: func(e pipeline.ProgressEvent) {
					send(streamResponse{Type: msgProgress, Progress: &e})
				},
			})
			if err != nil {
				send(streamResponse{Type: msgError, Message: err.Error()})
				return
			}
			s.logger.Info("stream session started", zap.String("batch_id", session.BatchID()))
		}

		in := pipeline.Input{Filename: req.Filename}
		if in.Data, err = base64.StdEncoding.DecodeString(req.Data); err != nil {
			in.Data = nil
			in.Err = fmt.Errorf("image data is not valid base64: %w", err)
		}

		item, err := session.Add(ctx, in)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			send(streamResponse{Type: msgError, Message: err.Error()})
			_ = session.Abort()
			return
		}
		send(streamResponse{Type: msgItem, Item: &item})
	}

	if session == nil {
		send(streamResponse{Type: msgError, Message: pipeline.ErrNoInputs.Error()})
		return
	}
	res, err := session.Close(ctx)
	if res == nil {
		send(streamResponse{Type: msgError, Message: err.Error()})
		return
	}
	summary := batchData(res)
	if err != nil {
		send(streamResponse{Type: msgSummary, Summary: summary, Message: err.Error()})
		return
	}
	send(streamResponse{Type: msgSummary, Summary: summary})
}
