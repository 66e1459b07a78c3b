package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/share"
	"github.com/gin-gonic/gin"
)

type contentBody struct {
	Content string `json:"content"`
}

type startBody struct {
	ListingID string `json:"listing_id"`
	Content   string `json:"content"`
}

type reportBody struct {
	Reason string `json:"reason"`
}

// bindJSON decodes the body into v. A malformed body is a validation error.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, http.StatusBadRequest, string(convo.CodeValidation), "malformed request body")
		return false
	}
	return true
}

func (s *Server) handleInbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				abort(c, http.StatusBadRequest, string(convo.CodeValidation), "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		entries, err := s.chat.Inbox(c.Request.Context(), userOf(c).ID, limit)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.InboxResponse{Entries: entries})
	}
}

func (s *Server) handleStart() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body startBody
		if !bindJSON(c, &body) {
			return
		}
		conv, res, err := s.chat.StartConversation(c.Request.Context(), userOf(c).ID, body.ListingID, body.Content)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, api.StartResponse{Conversation: *conv, Message: res.Message, Activated: res.Activated})
	}
}

func (s *Server) handleOpen() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := userOf(c)
		lang := c.DefaultQuery("lang", u.Language)
		snap, err := s.chat.Open(c.Request.Context(), c.Param("id"), u.ID, lang)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body contentBody
		if !bindJSON(c, &body) {
			return
		}
		res, err := s.chat.Send(c.Request.Context(), c.Param("id"), userOf(c).ID, body.Content)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, api.SendResponse{Message: res.Message, Activated: res.Activated})
	}
}

func (s *Server) handleSeen() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.chat.MarkSeen(c.Request.Context(), c.Param("id"), userOf(c).ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleBlock() gin.HandlerFunc   { return s.action(s.chat.Block) }
func (s *Server) handleUnblock() gin.HandlerFunc { return s.action(s.chat.Unblock) }
func (s *Server) handleDelete() gin.HandlerFunc  { return s.action(s.chat.Delete) }

func (s *Server) action(fn func(ctx context.Context, conversationID, viewerID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context(), c.Param("id"), userOf(c).ID); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleReport() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reportBody
		if !bindJSON(c, &body) {
			return
		}
		r, err := s.chat.Report(c.Request.Context(), c.Param("id"), userOf(c).ID, body.Reason)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, api.ReportResponse{ReportID: r.ID, CreatedAt: r.CreatedAt})
	}
}

func (s *Server) handleTranslate() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := userOf(c)
		lang := c.DefaultQuery("lang", u.Language)
		text, err := s.chat.Translate(c.Request.Context(), c.Param("id"), u.ID, lang)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.TranslateResponse{Text: text})
	}
}

func (s *Server) handlePutListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		var l convo.Listing
		if !bindJSON(c, &l) {
			return
		}
		l.ID = c.Param("id")
		if err := s.chat.PutListing(c.Request.Context(), userOf(c).ID, l); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleInterest() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.chat.RecordInterest(c.Request.Context(), c.Param("id"), userOf(c).ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, api.InterestResponse{Message: *m})
	}
}

func (s *Server) handleResolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := s.chat.Resolve(c.Request.Context(), c.Param("publicID"), userOf(c).ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.ResolveResponse{Conversation: *conv})
	}
}

// handleShare returns the public link of a conversation, or its QR code with
// format=png.
func (s *Server) handleShare() gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := s.chat.Conversation(c.Request.Context(), c.Param("id"), userOf(c).ID)
		if err != nil {
			fail(c, err)
			return
		}
		link, err := share.Link(s.opts.ShareBaseURL, conv.PublicID)
		if err != nil {
			fail(c, err)
			return
		}
		if c.Query("format") != "png" {
			c.JSON(http.StatusOK, gin.H{"public_id": conv.PublicID, "url": link})
			return
		}
		img, err := share.PNG(link, 256)
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, "image/png", img)
	}
}
