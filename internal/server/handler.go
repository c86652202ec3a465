package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chatrelay/internal/auth"
	"chatrelay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// Handler 聚合所有管理端 HTTP handler，依赖注入 service 层。
type Handler struct {
	adminSvc *service.AdminService
	roomSvc  *service.RoomService
	msgSvc   *service.MessageService
}

func NewHandler(adminSvc *service.AdminService, roomSvc *service.RoomService, msgSvc *service.MessageService) *Handler {
	return &Handler{adminSvc: adminSvc, roomSvc: roomSvc, msgSvc: msgSvc}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type createRoomRequest struct {
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=10080"`
	Theme           string `json:"theme" validate:"omitempty,max=64"`
}

// AdminLogin 校验管理员凭据并签发 token，同时写入 cookie。
func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.adminSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			log.Warn().Str("username", req.Username).Msg("failed admin login")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("admin login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	log.Info().Str("username", req.Username).Msg("admin logged in")
	auth.SetTokenCookie(c, result.AccessToken, result.TTLMinutes)
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "admin": result.Admin})
}

// CreateRoom 创建限时房间，返回房间 ID、key 与加入链接。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Theme = strings.TrimSpace(req.Theme)
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "DurationMinutes" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room := h.roomSvc.Create(req.DurationMinutes, req.Theme)
	c.JSON(http.StatusOK, gin.H{
		"room_id":  room.ID,
		"key":      room.Key,
		"theme":    room.Theme,
		"expiry":   room.Expiry,
		"room_url": roomURL(c.Request, room.ID),
	})
}

// ListRooms 返回全部房间供管理页展示。
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.roomSvc.List()})
}

// ListMessages 分页返回房间历史。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	msgs, total, err := h.msgSvc.ListByRoom(roomID, limit, offset)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total})
}

func roomURL(r *http.Request, roomID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + "/?room=" + roomID
}
