package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chathub/internal/service/chat"
	"chathub/internal/worker"
)

const dedupTTL = 10 * time.Minute

// Cache is the slice of the redis client the handler uses for event
// deduplication. *redis.Client satisfies it, nil receiver included.
type Cache interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Handler wires HTTP routes to the chat service. It is the host adapter:
// the transport bridge posts normalized chat events here and relays the
// returned reply strings back to the platform.
type Handler struct {
	chat       *chat.Service
	dispatcher *worker.Dispatcher
	cache      Cache
}

// NewHandler constructs a Handler instance. cache may be nil; event
// deduplication then degrades to a no-op.
func NewHandler(chatService *chat.Service, dispatcher *worker.Dispatcher, cache Cache) *Handler {
	return &Handler{
		chat:       chatService,
		dispatcher: dispatcher,
		cache:      cache,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/chat/talk", h.talk)
	api.POST("/chat/new/template", h.newFromTemplate)
	api.POST("/chat/new/prompt", h.newFromPrompt)
	api.POST("/chat/new/import", h.newFromJSON)
	api.POST("/chat/join", h.join)
	api.POST("/chat/copy", h.copySession)
	api.POST("/chat/delete", h.deleteSession)
	api.POST("/chat/rename", h.rename)
	api.GET("/chat/menu", h.menu)
	api.GET("/chat/templates", h.templates)
	api.POST("/chat/list", h.list)
	api.POST("/chat/who", h.who)
	api.POST("/chat/dump", h.dump)
	api.POST("/admin/group-auth", h.setGroupAuth)
	api.GET("/admin/keys", h.showKeys)
	api.POST("/admin/keys/reset", h.resetKeys)
}

// eventRequest is the normalized inbound event shared by all chat routes.
type eventRequest struct {
	UserID  int64  `json:"user_id"`
	GroupID string `json:"group_id"`
	Private bool   `json:"private"`
	Admin   bool   `json:"admin"`
	// EventID is the platform's message id, used to drop redelivered
	// events. Optional.
	EventID string `json:"event_id"`

	Content    string `json:"content,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	Index      int    `json:"index,omitempty"`
	Name       string `json:"name,omitempty"`
	TargetUser int64  `json:"target_user,omitempty"`
	OnlyAdmin  bool   `json:"only_admin,omitempty"`
}

func (r eventRequest) event() chat.Event {
	return chat.Event{
		User:    r.UserID,
		Group:   r.GroupID,
		Private: r.Private,
		Admin:   r.Admin,
	}
}

// bindEvent decodes and validates the event envelope, and drops duplicate
// deliveries via the cache. Returns false when the request was already
// answered.
func (h *Handler) bindEvent(c *gin.Context, req *eventRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return false
	}
	if !req.Private && req.GroupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required for group events"})
		return false
	}
	if req.EventID != "" && h.cache != nil {
		fresh, err := h.cache.SetNX(c.Request.Context(), "event:"+req.EventID, 1, dedupTTL)
		if err != nil {
			log.Printf("event dedup check: %v", err)
		} else if !fresh {
			c.JSON(http.StatusOK, gin.H{"duplicate": true})
			return false
		}
	}
	return true
}

// releaseEvent drops the dedup marker for an event that was never
// processed, so the client's retry after a 429 is served rather than
// swallowed as a duplicate.
func (h *Handler) releaseEvent(c *gin.Context, req *eventRequest) {
	if req.EventID == "" || h.cache == nil {
		return
	}
	if err := h.cache.Del(c.Request.Context(), "event:"+req.EventID); err != nil {
		log.Printf("release event %s: %v", req.EventID, err)
	}
}

func reply(c *gin.Context, text string) {
	c.JSON(http.StatusOK, gin.H{"reply": text})
}

func (h *Handler) talk(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	ev := req.event()
	var answer string
	err := h.dispatcher.Do(ev.Scope(), func() {
		answer = h.chat.Talk(c.Request.Context(), ev, req.Content)
	})
	if err != nil {
		h.releaseEvent(c, &req)
		if errors.Is(err, worker.ErrBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	reply(c, answer)
}

func (h *Handler) newFromTemplate(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	if req.TemplateID == "" {
		reply(c, h.chat.Templates())
		return
	}
	reply(c, h.chat.NewFromTemplate(req.event(), req.TemplateID))
}

func (h *Handler) newFromPrompt(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.NewFromPrompt(req.event(), req.Content))
}

func (h *Handler) newFromJSON(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.NewFromJSON(req.event(), req.Content))
}

func (h *Handler) join(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.Join(req.event(), req.Index))
}

func (h *Handler) copySession(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.Copy(req.event(), req.Index))
}

func (h *Handler) deleteSession(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	if req.Index > 0 {
		reply(c, h.chat.DeleteAt(req.event(), req.Index))
		return
	}
	reply(c, h.chat.Delete(req.event()))
}

func (h *Handler) rename(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.Rename(req.event(), req.Name))
}

func (h *Handler) menu(c *gin.Context) {
	reply(c, h.chat.Menu())
}

func (h *Handler) templates(c *gin.Context) {
	reply(c, h.chat.Templates())
}

func (h *Handler) list(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	if req.TargetUser > 0 {
		reply(c, h.chat.ListByUser(req.event(), req.TargetUser))
		return
	}
	reply(c, h.chat.List(req.event()))
}

func (h *Handler) who(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.Who(req.event()))
}

func (h *Handler) dump(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.Dump(req.event()))
}

func (h *Handler) setGroupAuth(c *gin.Context) {
	var req eventRequest
	if !h.bindEvent(c, &req) {
		return
	}
	reply(c, h.chat.SetGroupAuth(req.event(), req.OnlyAdmin))
}

func (h *Handler) showKeys(c *gin.Context) {
	reply(c, h.chat.ShowKeys())
}

func (h *Handler) resetKeys(c *gin.Context) {
	reply(c, h.chat.ResetKeys())
}
